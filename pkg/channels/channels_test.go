package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/bus"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
)

func TestSplitMessage_ShortContentUnchanged(t *testing.T) {
	assert.Equal(t, []string{"오늘도 고마워요."}, splitMessage("  오늘도 고마워요.  ", 100))
	assert.Nil(t, splitMessage("   ", 100))
}

func TestSplitMessage_RespectsRuneLimitForHangul(t *testing.T) {
	para := strings.Repeat("가나다라마 ", 100)
	chunks := splitMessage(para, 120)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk split a rune: %q", c)
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 120)
	}
	assert.Equal(t, strings.Join(strings.Fields(para), ""), strings.Join(strings.Fields(strings.Join(chunks, " ")), ""))
}

func TestSplitMessage_PrefersParagraphBreak(t *testing.T) {
	first := strings.Repeat("가", 70)
	second := strings.Repeat("나", 70)
	chunks := splitMessage(first+"\n\n"+second, 100)
	assert.Equal(t, []string{first, second}, chunks)
}

func TestSplitMessage_HardCutWithoutBoundary(t *testing.T) {
	chunks := splitMessage(strings.Repeat("하", 250), 100)
	require.Len(t, chunks, 3)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 50, utf8.RuneCountInString(chunks[2]))
}

func TestIsAllowed(t *testing.T) {
	open := NewBaseChannel("discord", bus.NewMessageBus(), nil)
	assert.True(t, open.IsAllowed("anyone"))

	ch := NewBaseChannel("discord", bus.NewMessageBus(), []string{" 123 ", "@grace", ""})
	assert.True(t, ch.IsAllowed("123"))
	assert.True(t, ch.IsAllowed("123|someone"))
	assert.True(t, ch.IsAllowed("999|grace"))
	assert.False(t, ch.IsAllowed("999"))
	assert.False(t, ch.IsAllowed("999|other"))
}

func TestHandleMessage_PublishesWithMode(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	ch := NewBaseChannel("discord", mb, []string{"7"})

	assert.False(t, ch.HandleMessage("8", "room", "안녕", nil))
	assert.False(t, ch.HandleMessage("7", "room", "   ", nil))
	require.True(t, ch.HandleMessage("7", "room", " 화장장 알려줘 ", map[string]string{"mode": "info"}))

	msg, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, bus.InboundMessage{
		Channel:  "discord",
		SenderID: "7",
		ChatID:   "room",
		Content:  "화장장 알려줘",
		Mode:     "info",
		Metadata: map[string]string{"mode": "info"},
	}, msg)
}

func TestModePrefix(t *testing.T) {
	cases := []struct {
		in, mode, rest string
	}{
		{"!info 화장장 알려줘", "info", "화장장 알려줘"},
		{"!정보 상속 순위", "info", "상속 순위"},
		{"!chat 오늘 좀 외로워요", "empathy", "오늘 좀 외로워요"},
		{"!INFO", "info", ""},
		{"그냥 이야기", "", "그냥 이야기"},
	}
	for _, tc := range cases {
		mode, rest := modePrefix(tc.in)
		assert.Equal(t, tc.mode, mode, tc.in)
		assert.Equal(t, tc.rest, rest, tc.in)
	}
}

type fakeDiscordAPI struct {
	mu      sync.Mutex
	sent    []string
	typing  int
	sendErr error
}

func (f *fakeDiscordAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, channelID+":"+content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeDiscordAPI) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func newTestDiscord(t *testing.T, mb *bus.MessageBus, allow ...string) (*DiscordChannel, *fakeDiscordAPI) {
	t.Helper()
	ch, err := NewDiscordChannel(config.DiscordConfig{Enabled: true, Token: "test-token", AllowFrom: allow}, mb)
	require.NoError(t, err)
	api := &fakeDiscordAPI{}
	ch.api = api
	ch.botID = "bot"
	return ch, api
}

func TestNewDiscordChannel_RequiresToken(t *testing.T) {
	_, err := NewDiscordChannel(config.DiscordConfig{Enabled: true}, bus.NewMessageBus())
	assert.Error(t, err)
}

func TestDiscord_InboundAndReply(t *testing.T) {
	defer goleak.VerifyNone(t)

	mb := bus.NewMessageBus()
	defer mb.Close()
	ch, api := newTestDiscord(t, mb, "42")
	ch.setRunning(true)

	ch.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m1", ChannelID: "room", Content: "!info 서울 화장장",
		Author: &discordgo.User{ID: "42", Username: "grace"},
	}})
	ch.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "room", Content: "echo", Author: &discordgo.User{ID: "bot"},
	}})
	ch.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "room", Content: "stranger", Author: &discordgo.User{ID: "13"},
	}})

	msg, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "서울 화장장", msg.Content)
	assert.Equal(t, "info", msg.Mode)
	assert.Equal(t, "true", msg.Metadata["is_dm"])
	assert.Zero(t, mb.Stats().PendingInbound)

	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{Channel: "discord", ChatID: "room", Content: "안내드릴게요."}))
	assert.Equal(t, []string{"room:안내드릴게요."}, api.sent)
	assert.Equal(t, 1, api.typing)

	ch.typingMu.Lock()
	assert.Empty(t, ch.typing)
	ch.typingMu.Unlock()
}

func TestDiscord_SendErrors(t *testing.T) {
	ch, api := newTestDiscord(t, bus.NewMessageBus())
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "room", Content: "x"}))

	ch.setRunning(true)
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{Content: "x"}))

	api.sendErr = errors.New("rate limited")
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "room", Content: "x"}))
}

type fakeChannel struct {
	*BaseChannel
	startErr error
	mu       sync.Mutex
	sent     []bus.OutboundMessage
	stopped  bool
}

func newFakeChannel(name string, mb *bus.MessageBus) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, mb, nil)}
}

func (f *fakeChannel) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.setRunning(true)
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.setRunning(false)
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Sent() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.OutboundMessage(nil), f.sent...)
}

func TestManager_DisabledConfigIsEmpty(t *testing.T) {
	m, err := NewManager(config.ChannelsConfig{}, bus.NewMessageBus())
	require.NoError(t, err)
	assert.Empty(t, m.Names())
}

func TestManager_DispatchesOutbound(t *testing.T) {
	defer goleak.VerifyNone(t)

	mb := bus.NewMessageBus()
	defer mb.Close()
	m, err := NewManager(config.ChannelsConfig{}, mb)
	require.NoError(t, err)
	fake := newFakeChannel("fake", mb)
	m.Register(fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	mb.PublishOutbound(bus.OutboundMessage{Channel: "cli", ChatID: "x", Content: "ignored"})
	mb.PublishOutbound(bus.OutboundMessage{Channel: "fake", ChatID: "room", Content: "안녕하세요"})

	require.Eventually(t, func() bool { return len(fake.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]bool{"fake": true}, m.Status())

	cancel()
	require.NoError(t, <-done)
	assert.True(t, fake.stopped)
	assert.Equal(t, "안녕하세요", fake.Sent()[0].Content)
}

func TestManager_StartFailureStopsStarted(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	m, err := NewManager(config.ChannelsConfig{}, mb)
	require.NoError(t, err)

	good := newFakeChannel("good", mb)
	bad := newFakeChannel("bad", mb)
	bad.startErr = errors.New("no gateway")
	m.Register(good)
	m.Register(bad)

	err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gateway")
	assert.False(t, good.IsRunning())
}
