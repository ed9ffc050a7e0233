package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/bus"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

// Manager owns the enabled channels and routes outbound replies to them.
type Manager struct {
	bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager builds the channels enabled in cfg. A config with every
// channel disabled yields an empty manager.
func NewManager(cfg config.ChannelsConfig, msgBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{bus: msgBus, channels: make(map[string]Channel)}

	if cfg.Discord.Enabled {
		discord, err := NewDiscordChannel(cfg.Discord, msgBus)
		if err != nil {
			return nil, fmt.Errorf("initialize discord channel: %w", err)
		}
		m.channels[discord.Name()] = discord
	}

	logger.InfoCF("channels", "Channel manager ready", map[string]interface{}{
		"enabled": m.Names(),
	})
	return m, nil
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) snapshot() map[string]Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch
	}
	return out
}

// Run starts every channel, dispatches outbound replies until ctx is done
// or the bus closes, then stops the channels. A channel that fails to start
// stops the ones already started.
func (m *Manager) Run(ctx context.Context) error {
	channels := m.snapshot()
	if len(channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
		<-ctx.Done()
		return nil
	}

	var started []Channel
	var failures []string
	for name, ch := range channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		started = append(started, ch)
	}
	stopAll := func() {
		stopCtx := context.WithoutCancel(ctx)
		for _, ch := range started {
			if err := ch.Stop(stopCtx); err != nil {
				logger.WarnCF("channels", "Error stopping channel", map[string]interface{}{
					"channel": ch.Name(),
					"error":   err.Error(),
				})
			}
		}
	}
	if len(failures) > 0 {
		stopAll()
		return fmt.Errorf("start channels: %s", strings.Join(failures, "; "))
	}
	defer stopAll()

	m.dispatchOutbound(ctx, channels)
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context, channels map[string]Channel) {
	logger.InfoC("channels", "Outbound dispatcher started")
	defer logger.InfoC("channels", "Outbound dispatcher stopped")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		ch, exists := channels[msg.Channel]
		if !exists {
			// cli and http replies are returned inline, never through the bus.
			logger.DebugCF("channels", "No channel for outbound message", map[string]interface{}{
				"channel": msg.Channel,
			})
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Error sending message", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// Status reports whether each channel is running.
func (m *Manager) Status() map[string]bool {
	status := make(map[string]bool)
	for name, ch := range m.snapshot() {
		status[name] = ch.IsRunning()
	}
	return status
}
