package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pengxiaoo/caddie/internal/db"
	"github.com/pengxiaoo/caddie/internal/domain"
)

const (
	keyPrefix = domain.KeyPrefix + "meta:"
	indexName = domain.KeyPrefix + "meta:idx"

	// pruneBatch bounds a single retention scan page.
	pruneBatch = 200
)

// store is the consumer interface for document metadata (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONSetMulti(ctx context.Context, items []db.JSONSetItem) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	Del(ctx context.Context, key string) error
	DelMulti(ctx context.Context, keys []string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Repo implements usecase/storage.MetaRepository.
type Repo struct {
	store     store
	sizeLimit int // 0 disables size-triggered pruning
}

// New creates a document metadata repository.
func New(s store, sizeLimit int) *Repo {
	return &Repo{store: s, sizeLimit: sizeLimit}
}

// EnsureIndex creates the retention search index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", indexName, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(indexName).
		OnJSON().
		Prefix(keyPrefix).
		Tag("$.from_knowledge_base", "from_knowledge_base").
		Numeric("$.insert_timestamp", "insert_timestamp").
		Numeric("$.last_query_timestamp", "last_query_timestamp").
		Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("ft.create %s: %w", indexName, err)
	}
	return nil
}

// Upsert writes a metadata record. With withPrune set, a configured size
// limit that the store has outgrown triggers a retention prune and the
// removed doc ids are returned so the caller can mirror the deletions into
// the semantic index. Popularity rewrites of an existing record pass false
// so they never shrink the store.
func (r *Repo) Upsert(ctx context.Context, m *domain.DocumentMeta, withPrune bool) ([]string, error) {
	data, err := json.Marshal(newRecord(m))
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}

	key := metaKey(m.DocID)
	if err := r.store.JSONSet(ctx, key, "$", data); err != nil {
		return nil, fmt.Errorf("json.set %s: %w", key, err)
	}

	if !withPrune || r.sizeLimit <= 0 {
		return nil, nil
	}
	size, err := r.DocSize(ctx)
	if err != nil {
		return nil, err
	}
	if size <= r.sizeLimit {
		return nil, nil
	}
	return r.Prune(ctx, domain.NowMs())
}

// BulkUpsert writes many metadata records in one pipelined round trip.
// Used for the knowledge base load; no prune check runs here.
func (r *Repo) BulkUpsert(ctx context.Context, metas []domain.DocumentMeta) error {
	if len(metas) == 0 {
		return nil
	}
	items := make([]db.JSONSetItem, 0, len(metas))
	for i := range metas {
		data, err := json.Marshal(newRecord(&metas[i]))
		if err != nil {
			return fmt.Errorf("marshal meta %s: %w", metas[i].DocID, err)
		}
		items = append(items, db.JSONSetItem{Key: metaKey(metas[i].DocID), Path: "$", Data: data})
	}
	if err := r.store.JSONSetMulti(ctx, items); err != nil {
		return fmt.Errorf("json.set multi: %w", err)
	}
	return nil
}

// FindOne returns the metadata record for a doc id.
func (r *Repo) FindOne(ctx context.Context, docID string) (domain.DocumentMeta, error) {
	key := metaKey(docID)
	raw, err := r.store.JSONGet(ctx, key, "$")
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.DocumentMeta{}, domain.ErrMetaNotFound
		}
		return domain.DocumentMeta{}, fmt.Errorf("json.get %s: %w", key, err)
	}

	// JSON.GET with a $ path wraps the document in an array.
	var records []metaRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return domain.DocumentMeta{}, fmt.Errorf("unmarshal meta %s: %w", key, err)
	}
	if len(records) == 0 {
		return domain.DocumentMeta{}, domain.ErrMetaNotFound
	}
	return records[0].toDomain(), nil
}

// Find returns a page of metadata records plus the total count.
func (r *Repo) Find(ctx context.Context, offset, limit int) ([]domain.DocumentMeta, int, error) {
	if limit <= 0 {
		limit = pruneBatch
	}
	result, err := r.store.SearchList(ctx, indexName, "*", offset, limit, []string{"$"})
	if err != nil {
		return nil, 0, fmt.Errorf("search meta: %w", err)
	}
	if result == nil || result.Total == 0 {
		return nil, 0, nil
	}

	metas := make([]domain.DocumentMeta, 0, len(result.Entries))
	for _, entry := range result.Entries {
		var rec metaRecord
		if err := json.Unmarshal([]byte(entry.Fields["$"]), &rec); err != nil {
			continue
		}
		if rec.DocID == "" {
			rec.DocID = docIDFromKey(entry.Key)
		}
		metas = append(metas, rec.toDomain())
	}
	return metas, result.Total, nil
}

// DeleteOne removes a metadata record by doc id and returns how many
// records were removed.
func (r *Repo) DeleteOne(ctx context.Context, docID string) (int, error) {
	key := metaKey(docID)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("check exists %s: %w", key, err)
	}
	if !exists {
		return 0, domain.ErrMetaNotFound
	}
	if err := r.store.Del(ctx, key); err != nil {
		return 0, fmt.Errorf("del %s: %w", key, err)
	}
	return 1, nil
}

// DeleteMany removes metadata records by doc id and returns how many existed.
func (r *Repo) DeleteMany(ctx context.Context, docIDs []string) (int, error) {
	if len(docIDs) == 0 {
		return 0, nil
	}
	keys := make([]string, len(docIDs))
	for i, id := range docIDs {
		keys[i] = metaKey(id)
	}
	n, err := r.store.DelMulti(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("del multi: %w", err)
	}
	return n, nil
}

// DocSize returns the number of metadata records.
func (r *Repo) DocSize(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, indexName, "*")
	if err != nil {
		return 0, fmt.Errorf("search count: %w", err)
	}
	return n, nil
}

// Prune removes every record that is not from the knowledge base, was
// inserted before the retention window, and has no query inside it.
// Returns the removed doc ids.
func (r *Repo) Prune(ctx context.Context, nowMs int64) ([]string, error) {
	cutoff := nowMs - domain.RetentionWindowMs
	query := fmt.Sprintf(
		"@from_knowledge_base:{false} @insert_timestamp:[-inf (%d] @last_query_timestamp:[-inf (%d]",
		cutoff, cutoff,
	)

	var pruned []string
	for {
		result, err := r.store.SearchList(ctx, indexName, query, 0, pruneBatch, nil)
		if err != nil {
			return pruned, fmt.Errorf("prune scan: %w", err)
		}
		if result == nil || len(result.Entries) == 0 {
			return pruned, nil
		}

		keys := make([]string, 0, len(result.Entries))
		for _, entry := range result.Entries {
			keys = append(keys, entry.Key)
			pruned = append(pruned, docIDFromKey(entry.Key))
		}
		if _, err := r.store.DelMulti(ctx, keys); err != nil {
			return pruned, fmt.Errorf("prune delete: %w", err)
		}
		if len(result.Entries) < pruneBatch {
			return pruned, nil
		}
	}
}

// DeleteNonKB removes every metadata record that did not come from the
// knowledge base and returns the removed doc ids. Seeded knowledge base
// entries survive. Test environments only.
func (r *Repo) DeleteNonKB(ctx context.Context) ([]string, error) {
	const query = "@from_knowledge_base:{false}"

	var removed []string
	for {
		result, err := r.store.SearchList(ctx, indexName, query, 0, pruneBatch, nil)
		if err != nil {
			return removed, fmt.Errorf("cleanup scan: %w", err)
		}
		if result == nil || len(result.Entries) == 0 {
			return removed, nil
		}

		keys := make([]string, 0, len(result.Entries))
		for _, entry := range result.Entries {
			keys = append(keys, entry.Key)
			removed = append(removed, docIDFromKey(entry.Key))
		}
		if _, err := r.store.DelMulti(ctx, keys); err != nil {
			return removed, fmt.Errorf("cleanup delete: %w", err)
		}
		if len(result.Entries) < pruneBatch {
			return removed, nil
		}
	}
}

func metaKey(docID string) string {
	return keyPrefix + docID
}

func docIDFromKey(key string) string {
	return strings.TrimPrefix(key, keyPrefix)
}
