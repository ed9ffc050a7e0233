package bus

// InboundMessage is a user utterance arriving from a chat channel.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Mode     string            `json:"mode,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply addressed to a channel conversation.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}
