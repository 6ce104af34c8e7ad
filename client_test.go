package caddie

import (
	"context"
	"errors"
	"testing"

	"github.com/pengxiaoo/caddie/internal/domain"
)

type mockEmbedder struct {
	fn func(ctx context.Context, text string) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return m.fn(ctx, text)
}

func TestNew_NoAddress(t *testing.T) {
	_, err := New(WithEmbedder(&mockEmbedder{}))
	if err == nil {
		t.Fatal("expected error when no address provided")
	}
}

func TestNew_NoEmbedder(t *testing.T) {
	_, err := New(WithRedis("localhost:6379", ""))
	if err == nil {
		t.Fatal("expected error when no embedder provided")
	}
}

func TestNoopGenerator(t *testing.T) {
	noop := &noopGenerator{}
	_, err := noop.Generate(context.Background(), "what is a birdie")
	if err == nil {
		t.Fatal("expected error from noopGenerator")
	}
	if noop.Model() != "none" {
		t.Errorf("model = %q, want none", noop.Model())
	}
}

func TestEmbedderAdapter(t *testing.T) {
	called := false
	mock := &mockEmbedder{
		fn: func(_ context.Context, text string) (EmbeddingResult, error) {
			called = true
			return EmbeddingResult{
				Embedding:    []float32{1, 2, 3},
				PromptTokens: 5,
				TotalTokens:  10,
			}, nil
		},
	}

	adapter := &embedderAdapter{inner: mock}
	result, err := adapter.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("inner embedder was not called")
	}
	if len(result.Embedding) != 3 {
		t.Errorf("embedding len = %d, want 3", len(result.Embedding))
	}
	if result.TotalTokens != 10 {
		t.Errorf("total tokens = %d, want 10", result.TotalTokens)
	}
}

func TestEmbedderAdapter_Error(t *testing.T) {
	mock := &mockEmbedder{
		fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
			return EmbeddingResult{}, errors.New("provider down")
		},
	}

	adapter := &embedderAdapter{inner: mock}
	_, err := adapter.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error from adapter")
	}
}

func TestClientOptions(t *testing.T) {
	cfg := &clientConfig{}

	WithRedis("localhost:6379", "secret")(cfg)
	if len(cfg.addrs) != 1 || cfg.addrs[0] != "localhost:6379" {
		t.Errorf("addrs = %v", cfg.addrs)
	}
	if cfg.password != "secret" {
		t.Errorf("password = %q", cfg.password)
	}

	WithSimilarityCutoff(0.9)(cfg)
	if cfg.similarityCutoff != 0.9 {
		t.Errorf("cutoff = %v, want 0.9", cfg.similarityCutoff)
	}

	WithSnapshotPath("/tmp/snap.json")(cfg)
	if cfg.snapshotPath != "/tmp/snap.json" {
		t.Errorf("snapshot path = %q", cfg.snapshotPath)
	}

	WithKnowledgeBase("data/kb.csv")(cfg)
	if cfg.knowledgeBase != "data/kb.csv" {
		t.Errorf("knowledge base = %q", cfg.knowledgeBase)
	}

	WithMetaSizeLimit(500)(cfg)
	if cfg.metaSizeLimit != 500 {
		t.Errorf("meta size limit = %d, want 500", cfg.metaSizeLimit)
	}

	WithEnv("prod")(cfg)
	if cfg.env != "prod" {
		t.Errorf("env = %q, want prod", cfg.env)
	}
}

func TestAnswerFromDomain_Conversion(t *testing.T) {
	a := answerFromDomain(domain.Answer{
		Category:        "rules",
		Question:        "whats a birdie",
		MatchedQuestion: "what is a birdie",
		Source:          domain.SourceKnowledgeBase,
		Answer:          "One under par.",
	})

	if a.Source != "knowledge-base" {
		t.Errorf("source = %q", a.Source)
	}
	if a.MatchedQuestion != "what is a birdie" {
		t.Errorf("matched question = %q", a.MatchedQuestion)
	}
}

func TestDocumentFromDomain_Conversion(t *testing.T) {
	d := documentFromDomain(domain.ReadableDocumentMeta{
		DocumentMeta: domain.DocumentMeta{
			DocID:    "abc123",
			Question: "what is par",
			Source:   domain.SourceChatGPT35,
			Answer:   "Expected strokes for a hole.",
		},
		InsertTime:     "2026-08-01 10:00:00",
		QueryCount7Day: 3,
	})

	if d.DocID != "abc123" || d.Source != "gpt-3.5-turbo" {
		t.Errorf("unexpected document: %+v", d)
	}
	if d.QueryCount7Day != 3 {
		t.Errorf("query count = %d, want 3", d.QueryCount7Day)
	}
}
