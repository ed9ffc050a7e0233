package tools

import (
	"context"
	"sync"
)

// Tool is one callable the model may request.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// TurnState is per-turn, per-user data tools read and update. The router
// attaches it to the context before running the loop.
type TurnState struct {
	UserID   string
	Emotion  string
	Mobility string
	Stage    string

	mu     sync.Mutex
	recent []string
}

func NewTurnState(userID, emotion, mobility, stage string, recent []string) *TurnState {
	return &TurnState{
		UserID:   userID,
		Emotion:  emotion,
		Mobility: mobility,
		Stage:    stage,
		recent:   append([]string(nil), recent...),
	}
}

// Recent is the activity names offered lately, oldest first.
func (s *TurnState) Recent() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recent...)
}

func (s *TurnState) SetRecent(recent []string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.recent = append([]string(nil), recent...)
	s.mu.Unlock()
}

type turnStateKey struct{}

func WithTurnState(ctx context.Context, state *TurnState) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if state == nil {
		return ctx
	}
	return context.WithValue(ctx, turnStateKey{}, state)
}

func turnStateFromContext(ctx context.Context) *TurnState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(turnStateKey{}).(*TurnState)
	return state
}
