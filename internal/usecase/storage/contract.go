package storage

import (
	"context"

	"github.com/pengxiaoo/caddie/internal/domain"
)

// MetaRepository defines the storage contract for document metadata.
type MetaRepository interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, m *domain.DocumentMeta, withPrune bool) (pruned []string, err error)
	BulkUpsert(ctx context.Context, metas []domain.DocumentMeta) error
	FindOne(ctx context.Context, docID string) (domain.DocumentMeta, error)
	Find(ctx context.Context, offset, limit int) (metas []domain.DocumentMeta, total int, err error)
	DeleteOne(ctx context.Context, docID string) (int, error)
	DeleteMany(ctx context.Context, docIDs []string) (int, error)
	DocSize(ctx context.Context) (int, error)
	DeleteNonKB(ctx context.Context) (removed []string, err error)
}
