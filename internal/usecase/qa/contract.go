package qa

import (
	"context"

	"github.com/pengxiaoo/caddie/internal/domain"
)

// Coordinator is the storage-consistency contract the resolver depends on.
type Coordinator interface {
	Match(ctx context.Context, question string) (domain.Answer, bool, error)
	MatchMeta(ctx context.Context, question string) (domain.DocumentMeta, float64, bool, error)
	AddDocument(ctx context.Context, a domain.Answer) error
	DeleteDocument(ctx context.Context, docID string) (int, error)
	GetDocument(ctx context.Context, docID string) (domain.DocumentMeta, error)
	Cleanup(ctx context.Context) (int, error)
}

// Generator produces answers when nothing indexed matches.
type Generator interface {
	Generate(ctx context.Context, question string) (string, error)
	Model() string
}
