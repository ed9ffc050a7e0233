package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/bus"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

// Channel is a remote chat surface that feeds the conversation loop.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel holds what every channel shares: the bus, the allowlist and
// the running flag.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	cleaned := make([]string, 0, len(allowList))
	for _, entry := range allowList {
		entry = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(entry), "@"))
		if entry != "" {
			cleaned = append(cleaned, entry)
		}
	}
	return &BaseChannel{name: name, bus: msgBus, allowList: cleaned}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed checks senderID against the allowlist. An empty list admits
// everyone. Compound ids of the form "id|username" match on either part.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart := senderID, ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		if allowed == senderID || allowed == idPart || (userPart != "" && allowed == userPart) {
			return true
		}
	}
	return false
}

// HandleMessage publishes an allowed utterance to the conversation loop.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, metadata map[string]string) bool {
	if !c.IsAllowed(senderID) {
		return false
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}

	msg := bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Mode:     metadata["mode"],
		Metadata: metadata,
	}
	if !c.bus.PublishInbound(msg) {
		logger.WarnCF(c.name, "Inbound queue full, message dropped", map[string]interface{}{
			"sender_id": senderID,
			"chat_id":   chatID,
		})
		return false
	}
	return true
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}
