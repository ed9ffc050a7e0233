package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/bus"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second

	// Discord rejects messages over 2000 characters.
	discordChunkRunes = 1800
)

// discordAPI is the slice of *discordgo.Session the channel talks to.
type discordAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	api     discordAPI
	botID   string

	typingMu sync.Mutex
	typing   map[string]*typingSession
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("channels.discord.token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		api:         session,
		typing:      make(map[string]*typingSession),
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.onMessageCreate)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	botUser, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("get bot user: %w", err)
	}
	c.botID = botUser.ID
	c.setRunning(true)

	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	c.stopAllTyping()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("discord channel id is empty")
	}
	defer c.endTyping(msg.ChatID)

	for _, chunk := range splitMessage(msg.Content, discordChunkRunes) {
		if err := c.sendChunk(ctx, msg.ChatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts content into pieces of at most limit runes, preferring
// paragraph breaks, then line breaks, then spaces.
func splitMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if limit <= 0 {
		return []string{content}
	}

	var chunks []string
	for utf8.RuneCountInString(content) > limit {
		window := string([]rune(content)[:limit])
		cut := lastBoundary(window)
		if cut <= 0 {
			cut = len(window)
		}
		chunks = append(chunks, strings.TrimSpace(content[:cut]))
		content = strings.TrimSpace(content[cut:])
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

// lastBoundary returns the byte offset of the best break inside the back
// half of window, or -1.
func lastBoundary(window string) int {
	floor := len(window) / 2
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx > floor {
			return idx
		}
	}
	return -1
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := c.api.ChannelMessageSend(channelID, content, discordgo.WithContext(sendCtx)); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if err := c.api.ChannelTyping(channelID); err != nil {
		logger.DebugCF("discord", "Typing indicator failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
	}
}

// beginTyping keeps the typing indicator alive until the matching reply is
// sent. Concurrent turns in one channel share a single ticker.
func (c *DiscordChannel) beginTyping(channelID string) {
	c.typingMu.Lock()
	if sess, ok := c.typing[channelID]; ok {
		sess.pending++
		c.typingMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = &typingSession{pending: 1, cancel: cancel}
	c.typingMu.Unlock()

	c.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordChannel) endTyping(channelID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	sess, ok := c.typing[channelID]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(c.typing, channelID)
	sess.cancel()
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	for channelID, sess := range c.typing {
		sess.cancel()
		delete(c.typing, channelID)
	}
}

// modePrefix lets a Discord user pick the conversation mode inline,
// e.g. "!info 화장장 알려줘".
func modePrefix(content string) (mode, rest string) {
	fields := strings.SplitN(strings.TrimSpace(content), " ", 2)
	switch strings.ToLower(fields[0]) {
	case "!info", "!정보":
		mode = "info"
	case "!chat", "!대화":
		mode = "empathy"
	default:
		return "", content
	}
	if len(fields) == 2 {
		rest = fields[1]
	}
	return mode, rest
}

func (c *DiscordChannel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if c.botID != "" && m.Author.ID == c.botID {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	mode, content := modePrefix(m.Content)
	if strings.TrimSpace(content) == "" {
		return
	}

	metadata := map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"guild_id":   m.GuildID,
		"is_dm":      fmt.Sprintf("%t", m.GuildID == ""),
	}
	if mode != "" {
		metadata["mode"] = mode
	}

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"sender_id": m.Author.ID,
		"preview":   utils.Truncate(content, 50),
	})

	c.beginTyping(m.ChannelID)
	if !c.HandleMessage(m.Author.ID, m.ChannelID, content, metadata) {
		c.endTyping(m.ChannelID)
	}
}
