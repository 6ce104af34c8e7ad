package chatlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pengxiaoo/caddie/internal/domain"
)

const keyPrefix = domain.KeyPrefix + "chat:"

// store is the consumer interface for chat history (ISP).
type store interface {
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	Del(ctx context.Context, key string) error
}

// Repo persists per-session chat transcripts as capped lists.
type Repo struct {
	store store
	limit int // most recent messages kept per session
}

// New creates a chat history repository.
func New(s store, limit int) *Repo {
	if limit <= 0 {
		limit = 20
	}
	return &Repo{store: s, limit: limit}
}

// Append stores messages at the tail of a session transcript and trims the
// list down to the configured limit.
func (r *Repo) Append(ctx context.Context, sessionID string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := chatKey(sessionID)

	values := make([]string, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		values = append(values, string(data))
	}

	if err := r.store.RPush(ctx, key, values...); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	if err := r.store.LTrim(ctx, key, int64(-r.limit), -1); err != nil {
		return fmt.Errorf("ltrim %s: %w", key, err)
	}
	return nil
}

// History returns the most recent messages for a session, oldest first.
func (r *Repo) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	key := chatKey(sessionID)
	raw, err := r.store.LRange(ctx, key, int64(-r.limit), -1)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	msgs := make([]domain.Message, 0, len(raw))
	for _, v := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Clear drops a session transcript.
func (r *Repo) Clear(ctx context.Context, sessionID string) error {
	key := chatKey(sessionID)
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func chatKey(sessionID string) string {
	return keyPrefix + sessionID
}
