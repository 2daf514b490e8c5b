package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/medchat/backend/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidRating        = errors.New("rating must be \"up\" or \"down\"")
)

// WelcomeMessage opens every new conversation.
const WelcomeMessage = "Hello and thank you for visiting World's Shortest Hackathon bot, what do you need help with?"

// Store persists conversations and the feedback left on their messages.
// Implementations must be safe for concurrent use.
type Store interface {
	CreateConversation(ctx context.Context) (chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	// ListConversations returns at most limit conversations, newest first.
	// A non-positive limit returns all of them.
	ListConversations(ctx context.Context, limit int) ([]chat.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg chat.Message) (chat.Message, error)
	RateMessage(ctx context.Context, messageID string, rating chat.Rating, feedback string) error
	// ApplyImprovement replaces the message content and marks it as an
	// accepted, positively rated improvement.
	ApplyImprovement(ctx context.Context, conversationID, messageID, content string) error
	MarkNegative(ctx context.Context, conversationID string) error
}

func newConversation() chat.Conversation {
	now := time.Now().UTC()
	return chat.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Messages: []chat.Message{{
			ID:        uuid.NewString(),
			Sender:    chat.SenderBot,
			Content:   WelcomeMessage,
			Timestamp: now,
		}},
	}
}

// prepareMessage fills in the id and timestamp when the caller left them out.
func prepareMessage(msg chat.Message) chat.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

func rate(msg *chat.Message, rating chat.Rating, feedback string) {
	msg.Rating = rating
	msg.Feedback = feedback
}

func improve(msg *chat.Message, content string) {
	msg.Content = content
	msg.Rating = chat.RatingUp
	msg.IsImproved = true
}

func mutateMessage(conv *chat.Conversation, messageID string, fn func(*chat.Message)) error {
	idx := conv.IndexOf(messageID)
	if idx < 0 {
		return ErrMessageNotFound
	}
	fn(&conv.Messages[idx])
	return nil
}

func clampLimit(limit, total int) int {
	if limit <= 0 || limit > total {
		return total
	}
	return limit
}
