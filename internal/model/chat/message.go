package chat

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Rating is the thumbs up/down verdict left on a bot reply.
type Rating string

const (
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

// Valid reports whether r is one of the known ratings.
func (r Rating) Valid() bool {
	return r == RatingUp || r == RatingDown
}

// Message persists individual turns of a conversation.
type Message struct {
	ID         string    `json:"id"`
	Sender     Sender    `json:"sender"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Rating     Rating    `json:"rating,omitempty"`
	Feedback   string    `json:"feedback,omitempty"`
	IsImproved bool      `json:"is_improved"`
}

// FromUser reports whether the message was written by the end user.
func (m Message) FromUser() bool {
	return m.Sender == SenderUser
}
