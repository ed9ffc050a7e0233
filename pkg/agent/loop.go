package agent

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/bus"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

// AgentLoop feeds bus messages from chat channels through the Router and
// publishes the replies.
type AgentLoop struct {
	bus     *bus.MessageBus
	router  *Router
	running atomic.Bool
}

func NewAgentLoop(msgBus *bus.MessageBus, router *Router) *AgentLoop {
	return &AgentLoop{bus: msgBus, router: router}
}

func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)
	defer al.running.Store(false)

	for al.running.Load() {
		msg, ok := al.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		response := al.processMessage(ctx, msg)
		if response == "" {
			continue
		}
		al.bus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: response,
		})
	}
	return nil
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
}

func (al *AgentLoop) Running() bool {
	return al.running.Load()
}

func (al *AgentLoop) processMessage(ctx context.Context, msg bus.InboundMessage) string {
	userID, err := ResolveUserID(msg.Channel, msg.SenderID)
	if err != nil {
		logger.WarnCF("agent", "Dropping message without identity",
			map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		return ""
	}

	if response, handled := al.handleCommand(userID, msg.Content); handled {
		return response
	}

	reply := al.router.Process(ctx, Request{
		UserID: userID,
		Text:   msg.Content,
		Mode:   ParseMode(msg.Mode),
	})
	return reply.Text
}

// handleCommand serves the slash commands chat channels expose.
func (al *AgentLoop) handleCommand(userID, content string) (string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}
	switch strings.Fields(content)[0] {
	case "/start", "/hello":
		return al.router.Welcome(userID), true
	case "/bye", "/end":
		if err := al.router.EndSession(userID); err != nil {
			logger.ErrorCF("agent", "Failed to end session",
				map[string]interface{}{
					"user_id": userID,
					"error":   err.Error(),
				})
		}
		return "오늘도 이야기 나눠주셔서 고마워요. 편히 쉬세요.", true
	case "/help":
		return "편하게 이야기를 나누시면 돼요.\n- \"다이어리\": 오늘 대화로 다이어리 쓰기\n- /start: 인사\n- /end: 오늘 대화 마치기", true
	}
	return "", false
}
