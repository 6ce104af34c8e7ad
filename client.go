package caddie

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/db"
	dbRedis "github.com/pengxiaoo/caddie/internal/db/redis"
	"github.com/pengxiaoo/caddie/internal/domain"
	"github.com/pengxiaoo/caddie/internal/index"
	"github.com/pengxiaoo/caddie/internal/kb"
	metarepo "github.com/pengxiaoo/caddie/internal/repository/meta"
	qauc "github.com/pengxiaoo/caddie/internal/usecase/qa"
	storageuc "github.com/pengxiaoo/caddie/internal/usecase/storage"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultSimilarityCutoff = 0.85
	defaultPersistInterval  = time.Hour
)

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult is the output of an embedding call.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Generator produces an answer when no stored document matches.
type Generator interface {
	Generate(ctx context.Context, question string) (string, error)
	Model() string
}

// Answer is a resolved answer with its provenance.
type Answer struct {
	Category        string
	Question        string
	MatchedQuestion string
	Source          string
	Answer          string
}

// Document is the stored metadata view of an answered question.
type Document struct {
	DocID          string
	Category       string
	Question       string
	Source         string
	Answer         string
	InsertTime     string
	LastQueryTime  string
	QueryCount7Day int
}

// Option configures the Client.
type Option func(*clientConfig)

type clientConfig struct {
	addrs    []string
	password string

	embedder  Embedder
	generator Generator

	similarityCutoff float64
	snapshotPath     string
	knowledgeBase    string
	metaSizeLimit    int
	env              string

	logger *zap.Logger
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	}
}

// WithEmbedder supplies the embedding provider used by the semantic index.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithGenerator supplies a fallback answer generator. Without one, questions
// that miss the index return an error.
func WithGenerator(g Generator) Option {
	return func(c *clientConfig) {
		c.generator = g
	}
}

// WithSimilarityCutoff overrides the minimum score for an index match.
func WithSimilarityCutoff(cutoff float64) Option {
	return func(c *clientConfig) {
		c.similarityCutoff = cutoff
	}
}

// WithSnapshotPath enables index persistence at the given file path.
func WithSnapshotPath(path string) Option {
	return func(c *clientConfig) {
		c.snapshotPath = path
	}
}

// WithKnowledgeBase seeds the index from a CSV of category,question,answer rows.
func WithKnowledgeBase(csvPath string) Option {
	return func(c *clientConfig) {
		c.knowledgeBase = csvPath
	}
}

// WithMetaSizeLimit caps the stored document count; writes past the limit
// prune stale generated answers.
func WithMetaSizeLimit(limit int) Option {
	return func(c *clientConfig) {
		c.metaSizeLimit = limit
	}
}

// WithEnv sets the environment name. Cleanup is refused when it is "prod".
func WithEnv(env string) Option {
	return func(c *clientConfig) {
		c.env = env
	}
}

// WithLogger supplies a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// Client is the embedded caddie entry point: the QA index and answer
// resolution without the HTTP layer.
type Client struct {
	store       db.Store
	coordinator *storageuc.Coordinator
	qa          *qauc.Service
}

// New creates a Client, connects to the database, and restores the index.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		similarityCutoff: defaultSimilarityCutoff,
		env:              "local",
		logger:           zap.NewNop(),
	}
	for _, o := range opts {
		o(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("caddie: database address required (use WithRedis)")
	}
	if cfg.embedder == nil {
		return nil, errors.New("caddie: embedder required (use WithEmbedder)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("caddie: create store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("caddie: database not ready: %w", err)
	}

	c, err := wireClient(ctx, store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func wireClient(ctx context.Context, store db.Store, cfg *clientConfig) (*Client, error) {
	metaRepo := metarepo.New(store, cfg.metaSizeLimit)
	semIndex := index.New(&embedderAdapter{inner: cfg.embedder}, cfg.similarityCutoff)

	coordinator := storageuc.New(metaRepo, semIndex, &storageuc.Config{
		SnapshotPath:    cfg.snapshotPath,
		PersistInterval: defaultPersistInterval,
		Env:             cfg.env,
		Logger:          cfg.logger,
	})

	var knowledgeBase []domain.Answer
	if cfg.knowledgeBase != "" {
		var err error
		knowledgeBase, err = kb.LoadFile(cfg.knowledgeBase)
		if err != nil {
			return nil, fmt.Errorf("caddie: load knowledge base: %w", err)
		}
	}
	if err := coordinator.Initialize(ctx, knowledgeBase); err != nil {
		return nil, fmt.Errorf("caddie: initialize index storage: %w", err)
	}

	var gen qauc.Generator = &noopGenerator{}
	if cfg.generator != nil {
		gen = cfg.generator
	}

	return &Client{
		store:       store,
		coordinator: coordinator,
		qa:          qauc.New(coordinator, gen, cfg.logger),
	}, nil
}

// Close persists the index snapshot and releases all resources.
func (c *Client) Close() {
	if c.coordinator != nil {
		_ = c.coordinator.Shutdown()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Ask resolves a question: an index match when one scores above the cutoff,
// otherwise a generated answer that is stored for future matches.
func (c *Client) Ask(ctx context.Context, question string) (Answer, error) {
	a, err := c.qa.Query(ctx, question)
	if err != nil {
		return Answer{}, err
	}
	return answerFromDomain(a), nil
}

// GetDocument fetches a stored document by id, or by similar question when
// fuzzy is true.
func (c *Client) GetDocument(ctx context.Context, idOrQuestion string, fuzzy bool) (Document, error) {
	m, err := c.qa.GetDocument(ctx, idOrQuestion, fuzzy)
	if err != nil {
		return Document{}, err
	}
	return documentFromDomain(m), nil
}

// Documents pages through stored document metadata.
func (c *Client) Documents(ctx context.Context, offset, limit int) ([]Document, int, error) {
	metas, total, err := c.coordinator.Documents(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	docs := make([]Document, len(metas))
	for i, m := range metas {
		docs[i] = documentFromDomain(m)
	}
	return docs, total, nil
}

// DeleteDocument removes a document from the index and the metadata store
// and returns the removed count.
func (c *Client) DeleteDocument(ctx context.Context, docID string) (int, error) {
	return c.qa.Delete(ctx, docID)
}

// Cleanup drops every document that was not loaded from the knowledge
// base. Refused when the env is "prod".
func (c *Client) Cleanup(ctx context.Context) (int, error) {
	return c.qa.Cleanup(ctx)
}

func answerFromDomain(a domain.Answer) Answer {
	return Answer{
		Category:        a.Category,
		Question:        a.Question,
		MatchedQuestion: a.MatchedQuestion,
		Source:          string(a.Source),
		Answer:          a.Answer,
	}
}

func documentFromDomain(m domain.ReadableDocumentMeta) Document {
	return Document{
		DocID:          m.DocID,
		Category:       m.Category,
		Question:       m.Question,
		Source:         string(m.Source),
		Answer:         m.Answer,
		InsertTime:     m.InsertTime,
		LastQueryTime:  m.LastQueryTime,
		QueryCount7Day: m.QueryCount7Day,
	}
}

// embedderAdapter wraps the public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// noopGenerator returns an error on Generate (used when no generator configured).
type noopGenerator struct{}

func (noopGenerator) Generate(_ context.Context, _ string) (string, error) {
	return "", errors.New("caddie: generator not configured (use WithGenerator)")
}

func (noopGenerator) Model() string { return "none" }
