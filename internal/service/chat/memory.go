package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/medchat/backend/internal/model/chat"
)

// MemoryStore keeps conversations in process memory. Suitable for local
// development and tests; everything is lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	order         []string
	// messageOwner maps message id to the conversation holding it.
	messageOwner map[string]string
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]chat.Conversation),
		messageOwner:  make(map[string]string),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context) (chat.Conversation, error) {
	conv := newConversation()

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.order = append(s.order, conv.ID)
	for _, msg := range conv.Messages {
		s.messageOwner[msg.ID] = conv.ID
	}
	s.mu.Unlock()

	return conv.Clone(), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, limit int) ([]chat.Conversation, error) {
	s.mu.RLock()
	out := make([]chat.Conversation, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.conversations[s.order[i]].Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out[:clampLimit(limit, len(out))], nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg chat.Message) (chat.Message, error) {
	msg = prepareMessage(msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Message{}, ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	s.conversations[conversationID] = conv
	s.messageOwner[msg.ID] = conversationID
	return msg, nil
}

func (s *MemoryStore) RateMessage(_ context.Context, messageID string, rating chat.Rating, feedback string) error {
	if !rating.Valid() {
		return ErrInvalidRating
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.messageOwner[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	return s.updateMessageLocked(convID, messageID, func(msg *chat.Message) {
		rate(msg, rating, feedback)
	})
}

func (s *MemoryStore) ApplyImprovement(_ context.Context, conversationID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateMessageLocked(conversationID, messageID, func(msg *chat.Message) {
		improve(msg, content)
	})
}

func (s *MemoryStore) MarkNegative(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.IsNegative = true
	s.conversations[conversationID] = conv
	return nil
}

func (s *MemoryStore) updateMessageLocked(conversationID, messageID string, mutate func(*chat.Message)) error {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	// Readers only ever see clones, so the stored slice can be edited in place.
	return mutateMessage(&conv, messageID, mutate)
}
