package chat

import "time"

// Conversation is an ordered, chronological thread of messages.
type Conversation struct {
	ID         string    `json:"id"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	IsNegative bool      `json:"is_negative"`
}

// IndexOf returns the position of the message with the given id, or -1.
func (c Conversation) IndexOf(messageID string) int {
	for i, msg := range c.Messages {
		if msg.ID == messageID {
			return i
		}
	}
	return -1
}

// Clone returns a copy whose message slice does not alias c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}
