package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/domain"
	"github.com/pengxiaoo/caddie/internal/index"
	"github.com/pengxiaoo/caddie/internal/metrics"
)

// Coordinator keeps the semantic index and the metadata store in step.
// Every document lives in both or in neither; all mutations go through the
// coordinator's lock, while similarity lookups stay lock-free.
type Coordinator struct {
	mu    sync.Mutex
	meta  MetaRepository
	index *index.SemanticIndex

	snapshotPath    string
	persistInterval time.Duration
	lastPersist     time.Time // guarded by mu

	env    string
	logger *zap.Logger
}

// Config holds the coordinator settings.
type Config struct {
	SnapshotPath    string
	PersistInterval time.Duration
	Env             string
	Logger          *zap.Logger
}

// New creates a storage coordinator.
func New(meta MetaRepository, idx *index.SemanticIndex, cfg *Config) *Coordinator {
	return &Coordinator{
		meta:            meta,
		index:           idx,
		snapshotPath:    cfg.SnapshotPath,
		persistInterval: cfg.PersistInterval,
		env:             cfg.Env,
		logger:          cfg.Logger,
	}
}

// Initialize restores the index snapshot, prepares the metadata search
// index, and seeds any knowledge base entries that are not indexed yet.
// A corrupt snapshot is logged and discarded; the knowledge base rebuild
// then repopulates the index.
func (c *Coordinator) Initialize(ctx context.Context, kb []domain.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.index.Load(c.snapshotPath); err != nil {
		if !errors.Is(err, domain.ErrIndexCorrupt) {
			return fmt.Errorf("load snapshot: %w", err)
		}
		c.logger.Warn("Discarding corrupt index snapshot", zap.String("path", c.snapshotPath), zap.Error(err))
		c.index.Clear()
	}

	if err := c.meta.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure meta index: %w", err)
	}

	seeded := make([]domain.DocumentMeta, 0, len(kb))
	for _, a := range kb {
		docID := domain.DocID(a.Question)
		if c.index.Contains(docID) {
			continue
		}
		if err := c.index.Insert(ctx, docID, a.Question); err != nil {
			return fmt.Errorf("index knowledge base entry %q: %w", a.Question, err)
		}
		seeded = append(seeded, domain.MetaFromAnswer(a))
	}
	if len(seeded) > 0 {
		if err := c.meta.BulkUpsert(ctx, seeded); err != nil {
			return fmt.Errorf("store knowledge base metadata: %w", err)
		}
		c.logger.Info("Seeded knowledge base entries", zap.Int("count", len(seeded)))
	}

	metrics.IndexDocuments.Set(float64(c.index.Len()))
	return c.persistLocked(true)
}

// AddDocument stores an answer in both halves of the subsystem. If the
// metadata write triggered a size-limit prune, the pruned doc ids are
// mirrored out of the index before returning.
func (c *Coordinator) AddDocument(ctx context.Context, a domain.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := domain.MetaFromAnswer(a)
	if err := c.index.Insert(ctx, m.DocID, m.Question); err != nil {
		return fmt.Errorf("index document: %w", err)
	}

	pruned, err := c.meta.Upsert(ctx, &m, true)
	if err != nil {
		// Roll the index entry back so neither half holds the document.
		c.index.Delete(m.DocID)
		return fmt.Errorf("store document meta: %w", err)
	}

	for _, id := range pruned {
		c.index.Delete(id)
	}
	if len(pruned) > 0 {
		metrics.PrunedDocumentsTotal.WithLabelValues("size_limit").Add(float64(len(pruned)))
	}

	metrics.IndexDocuments.Set(float64(c.index.Len()))
	// A prune shrank the index, so the snapshot must not outlive the
	// pruned entries. Plain inserts stay on the throttled schedule.
	return c.persistLocked(len(pruned) > 0)
}

// DeleteDocument removes a document from both the index and the metadata
// store and returns how many documents were removed. Returns
// domain.ErrNotFound when neither half held it.
func (c *Coordinator) DeleteDocument(ctx context.Context, docID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inIndex := c.index.Delete(docID)

	n, err := c.meta.DeleteOne(ctx, docID)
	if err != nil && !errors.Is(err, domain.ErrMetaNotFound) {
		return 0, fmt.Errorf("delete document meta: %w", err)
	}
	if !inIndex && errors.Is(err, domain.ErrMetaNotFound) {
		return 0, domain.ErrNotFound
	}
	if n == 0 && inIndex {
		// Meta record already gone; the orphaned index entry still counts.
		n = 1
	}

	metrics.IndexDocuments.Set(float64(c.index.Len()))
	// Deletions flush unconditionally so a reloaded snapshot never
	// resurrects the document.
	return n, c.persistLocked(true)
}

// Match resolves a question against the index. On a hit it loads the stored
// answer, records the query timestamp for retention, and returns the answer
// rebuilt for the asked question. The second return value is false when no
// indexed question clears the similarity cutoff.
func (c *Coordinator) Match(ctx context.Context, question string) (domain.Answer, bool, error) {
	hit, ok, err := c.index.Query(ctx, question)
	if err != nil {
		return domain.Answer{}, false, fmt.Errorf("query index: %w", err)
	}
	if !ok {
		return domain.Answer{}, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.meta.FindOne(ctx, hit.DocID)
	if err != nil {
		if errors.Is(err, domain.ErrMetaNotFound) {
			// The meta record is gone (pruned or deleted out of band).
			// Drop the orphaned index entry and report no match.
			c.index.Delete(hit.DocID)
			metrics.IndexDocuments.Set(float64(c.index.Len()))
			c.logger.Warn("Dropped orphaned index entry", zap.String("doc_id", hit.DocID))
			if perr := c.persistLocked(false); perr != nil {
				return domain.Answer{}, false, perr
			}
			return domain.Answer{}, false, nil
		}
		return domain.Answer{}, false, fmt.Errorf("load matched meta: %w", err)
	}

	m.RecordQuery(domain.NowMs())
	// A popularity rewrite never prunes; only inserts grow the store.
	if _, err := c.meta.Upsert(ctx, &m, false); err != nil {
		return domain.Answer{}, false, fmt.Errorf("record query: %w", err)
	}

	// Callers see provenance, not the model tag the answer was stored
	// under: it either came from the knowledge base or from a user.
	source := domain.SourceUserAsked
	if m.Source.FromKnowledgeBase() {
		source = domain.SourceKnowledgeBase
	}
	return domain.Answer{
		Category:        m.Category,
		Question:        question,
		MatchedQuestion: m.Question,
		Source:          source,
		Answer:          m.Answer,
	}, true, nil
}

// MatchMeta resolves a question without recording a query timestamp. Used
// where a lookup is advisory, such as grounding a chat turn.
func (c *Coordinator) MatchMeta(ctx context.Context, question string) (domain.DocumentMeta, float64, bool, error) {
	hit, ok, err := c.index.Query(ctx, question)
	if err != nil {
		return domain.DocumentMeta{}, 0, false, fmt.Errorf("query index: %w", err)
	}
	if !ok {
		return domain.DocumentMeta{}, 0, false, nil
	}

	m, err := c.meta.FindOne(ctx, hit.DocID)
	if err != nil {
		if errors.Is(err, domain.ErrMetaNotFound) {
			return domain.DocumentMeta{}, 0, false, nil
		}
		return domain.DocumentMeta{}, 0, false, fmt.Errorf("load matched meta: %w", err)
	}
	return m, hit.Score, true, nil
}

// GetDocument returns the metadata record for a doc id.
func (c *Coordinator) GetDocument(ctx context.Context, docID string) (domain.DocumentMeta, error) {
	m, err := c.meta.FindOne(ctx, docID)
	if err != nil {
		return domain.DocumentMeta{}, fmt.Errorf("get document meta: %w", err)
	}
	return m, nil
}

// Documents returns a page of admin-readable metadata records.
func (c *Coordinator) Documents(ctx context.Context, offset, limit int) ([]domain.ReadableDocumentMeta, int, error) {
	metas, total, err := c.meta.Find(ctx, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list document meta: %w", err)
	}
	nowMs := domain.NowMs()
	out := make([]domain.ReadableDocumentMeta, 0, len(metas))
	for _, m := range metas {
		out = append(out, m.Readable(nowMs))
	}
	return out, total, nil
}

// DocSize returns the number of stored metadata records.
func (c *Coordinator) DocSize(ctx context.Context) (int, error) {
	n, err := c.meta.DocSize(ctx)
	if err != nil {
		return 0, fmt.Errorf("doc size: %w", err)
	}
	return n, nil
}

// Cleanup drops every document that was not seeded from the knowledge
// base, mirroring the removals into the index. Refused outside test
// environments.
func (c *Coordinator) Cleanup(ctx context.Context) (int, error) {
	if c.env == "prod" {
		return 0, domain.ErrCleanupForbidden
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed, err := c.meta.DeleteNonKB(ctx)
	if err != nil {
		return len(removed), fmt.Errorf("cleanup meta: %w", err)
	}
	for _, id := range removed {
		c.index.Delete(id)
	}

	metrics.PrunedDocumentsTotal.WithLabelValues("cleanup").Add(float64(len(removed)))
	metrics.IndexDocuments.Set(float64(c.index.Len()))
	return len(removed), c.persistLocked(true)
}

// Shutdown flushes the index snapshot unconditionally.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked(true)
}

// persistLocked writes the snapshot when forced or when the persist
// interval has elapsed. Callers must hold c.mu.
func (c *Coordinator) persistLocked(force bool) error {
	if !force && time.Since(c.lastPersist) < c.persistInterval {
		return nil
	}
	if err := c.index.Persist(c.snapshotPath); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	c.lastPersist = time.Now()
	return nil
}
