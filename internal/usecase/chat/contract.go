package chat

import (
	"context"

	"github.com/pengxiaoo/caddie/internal/domain"
)

// HistoryRepo persists per-conversation transcripts.
type HistoryRepo interface {
	Append(ctx context.Context, conversationID string, msgs ...domain.Message) error
	History(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// Matcher grounds a chat turn against stored answers without recording a
// query.
type Matcher interface {
	MatchMeta(ctx context.Context, question string) (domain.DocumentMeta, float64, bool, error)
}

// ChatLLM generates conversational completions.
type ChatLLM interface {
	GenerateChat(ctx context.Context, msgs []domain.Message) (string, error)
	GenerateChatStream(ctx context.Context, msgs []domain.Message, emit func(delta string) error) (string, error)
}
