package agent

import (
	"fmt"
	"strings"
)

// Identity is where a message came from. Local surfaces (cli, http) trust
// ActorID as the user id; remote channels prefix it so ids from different
// services never collide.
type Identity struct {
	Channel string
	ActorID string
}

func (id Identity) Validate() error {
	if strings.TrimSpace(id.Channel) == "" {
		return fmt.Errorf("missing channel")
	}
	if strings.TrimSpace(id.ActorID) == "" {
		return fmt.Errorf("missing actor id")
	}
	return nil
}

var localChannels = map[string]bool{"cli": true, "http": true}

// UserID is the key sessions and diaries are stored under.
func (id Identity) UserID() string {
	channel := strings.ToLower(strings.TrimSpace(id.Channel))
	actor := strings.TrimSpace(id.ActorID)
	if localChannels[channel] {
		return actor
	}
	return channel + "-" + actor
}

// ResolveUserID maps a channel sender to the stored user id.
func ResolveUserID(channel, actorID string) (string, error) {
	id := Identity{Channel: channel, ActorID: actorID}
	if err := id.Validate(); err != nil {
		return "", fmt.Errorf("resolve user identity: %w", err)
	}
	return id.UserID(), nil
}
