package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/medchat/backend/internal/model/chat"
)

const (
	conversationIndexKey = "conversations:by_created"
	messageOwnerKey      = "conversations:message_owner"
	maxWatchRetries      = 32
)

// RedisStore keeps each conversation as a JSON document under
// conversation:{id}. A sorted set orders conversations by creation time and a
// hash maps message ids back to their conversation.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("chat: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		tracer: otel.Tracer("medchat.internal.service.chat.redis"),
	}
}

func (s *RedisStore) CreateConversation(ctx context.Context) (chat.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "chat.create_conversation")
	defer span.End()

	conv := newConversation()
	data, err := json.Marshal(conv)
	if err != nil {
		span.RecordError(err)
		return chat.Conversation{}, fmt.Errorf("chat: failed to marshal conversation: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, conversationKey(conv.ID), data, 0)
		pipe.ZAdd(ctx, conversationIndexKey, redis.Z{
			Score:  float64(conv.CreatedAt.UnixMicro()),
			Member: conv.ID,
		})
		for _, msg := range conv.Messages {
			pipe.HSet(ctx, messageOwnerKey, msg.ID, conv.ID)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return chat.Conversation{}, fmt.Errorf("chat: failed to persist conversation: %w", err)
	}
	return conv, nil
}

func (s *RedisStore) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "chat.get_conversation")
	defer span.End()

	conv, err := loadConversation(ctx, s.redis, id)
	if err != nil && !errors.Is(err, ErrConversationNotFound) {
		span.RecordError(err)
	}
	return conv, err
}

func (s *RedisStore) ListConversations(ctx context.Context, limit int) ([]chat.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "chat.list_conversations")
	defer span.End()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.redis.ZRevRange(ctx, conversationIndexKey, 0, stop).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: failed to read conversation index: %w", err)
	}
	if len(ids) == 0 {
		return []chat.Conversation{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = conversationKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: failed to load conversations: %w", err)
	}

	out := make([]chat.Conversation, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Indexed but deleted out from under us.
			continue
		}
		var conv chat.Conversation
		if err := json.Unmarshal([]byte(raw), &conv); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("chat: failed to decode conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) (chat.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.append_message")
	defer span.End()

	msg = prepareMessage(msg)
	err := s.update(ctx, conversationID, func(conv *chat.Conversation) error {
		conv.Messages = append(conv.Messages, msg)
		return nil
	}, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, messageOwnerKey, msg.ID, conversationID)
	})
	if err != nil {
		span.RecordError(err)
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *RedisStore) RateMessage(ctx context.Context, messageID string, rating chat.Rating, feedback string) error {
	ctx, span := s.tracer.Start(ctx, "chat.rate_message")
	defer span.End()

	if !rating.Valid() {
		return ErrInvalidRating
	}

	convID, err := s.redis.HGet(ctx, messageOwnerKey, messageID).Result()
	if errors.Is(err, redis.Nil) {
		return ErrMessageNotFound
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: failed to locate message: %w", err)
	}

	err = s.update(ctx, convID, func(conv *chat.Conversation) error {
		return mutateMessage(conv, messageID, func(msg *chat.Message) {
			rate(msg, rating, feedback)
		})
	}, nil)
	if errors.Is(err, ErrConversationNotFound) {
		return ErrMessageNotFound
	}
	return err
}

func (s *RedisStore) ApplyImprovement(ctx context.Context, conversationID, messageID, content string) error {
	ctx, span := s.tracer.Start(ctx, "chat.apply_improvement")
	defer span.End()

	return s.update(ctx, conversationID, func(conv *chat.Conversation) error {
		return mutateMessage(conv, messageID, func(msg *chat.Message) {
			improve(msg, content)
		})
	}, nil)
}

func (s *RedisStore) MarkNegative(ctx context.Context, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "chat.mark_negative")
	defer span.End()

	return s.update(ctx, conversationID, func(conv *chat.Conversation) error {
		conv.IsNegative = true
		return nil
	}, nil)
}

// update applies mutate to the stored conversation under WATCH so concurrent
// writers never drop each other's changes. extra queues additional commands
// into the same transaction.
func (s *RedisStore) update(ctx context.Context, conversationID string, mutate func(*chat.Conversation) error, extra func(redis.Pipeliner)) error {
	key := conversationKey(conversationID)

	txf := func(tx *redis.Tx) error {
		conv, err := loadConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if err := mutate(&conv); err != nil {
			return err
		}
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("chat: failed to marshal conversation: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("chat: conversation %s kept changing during update", conversationID)
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadConversation(ctx context.Context, r stringGetter, id string) (chat.Conversation, error) {
	data, err := r.Get(ctx, conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("chat: failed to load conversation: %w", err)
	}

	var conv chat.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return chat.Conversation{}, fmt.Errorf("chat: failed to decode conversation: %w", err)
	}
	return conv, nil
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}
