package agent

import (
	"strings"
	"sync"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/session"
)

// Mode selects the handler and tool set for a routed turn.
type Mode string

const (
	ModeEmpathy Mode = "empathy"
	ModeInfo    Mode = "info"
)

// ParseMode accepts the request-level spellings; anything else is "".
func ParseMode(s string) Mode {
	switch s {
	case "empathy", "chat":
		return ModeEmpathy
	case "info":
		return ModeInfo
	default:
		return ""
	}
}

// Phase is the router state reported with each reply.
type Phase string

const (
	PhaseAwaitingProfile      Phase = "awaiting_profile"
	PhaseActive               Phase = "active"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
)

// Pending is the action a yes/no answer will decide.
type Pending string

const (
	PendingNone     Pending = ""
	PendingDiary    Pending = "diary"
	PendingActivity Pending = "activity"
)

// profileStep tracks the onboarding question last asked.
type profileStep int

const (
	stepNone profileStep = iota
	stepName
	stepEmotion
	stepMobility
)

// conversation is the in-memory state for one user. mu serialises turns.
type conversation struct {
	mu sync.Mutex

	loaded   bool
	profile  session.Profile
	messages []providers.Message
	mode     Mode
	turns    int
	pending  Pending
	step     profileStep
	offered  bool
	recent   []string
}

func (c *conversation) phase() Phase {
	switch {
	case c.pending != PendingNone:
		return PhaseAwaitingConfirmation
	case c.needsProfile():
		return PhaseAwaitingProfile
	default:
		return PhaseActive
	}
}

func (c *conversation) needsProfile() bool {
	return c.step != stepNone || !c.profile.Complete()
}

// nextStep is the first onboarding question the profile has no answer for.
func nextStep(p session.Profile) profileStep {
	switch {
	case !p.HasName():
		return stepName
	case strings.TrimSpace(p.Emotion) == "":
		return stepEmotion
	case strings.TrimSpace(p.Mobility) == "":
		return stepMobility
	default:
		return stepNone
	}
}

func (c *conversation) append(msgs ...providers.Message) {
	c.messages = append(c.messages, msgs...)
}

// window returns the last n messages, never starting on a tool message.
func window(msgs []providers.Message, n int) []providers.Message {
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	for len(msgs) > 0 && msgs[0].Role == "tool" {
		msgs = msgs[1:]
	}
	return msgs
}

// Request is one incoming user message.
type Request struct {
	UserID string
	Text   string
	// Mode forces the handler; empty means classify by keywords.
	Mode Mode
}

// Reply is what the router hands back for every request.
type Reply struct {
	Text    string  `json:"text"`
	Mode    Mode    `json:"mode,omitempty"`
	Phase   Phase   `json:"phase"`
	Pending Pending `json:"pending,omitempty"`
	Turns   int     `json:"turns"`
}
