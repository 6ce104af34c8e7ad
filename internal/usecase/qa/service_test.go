package qa

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/domain"
)

// --- Mocks ---

type mockCoordinator struct {
	matchAnswer   domain.Answer
	matchOK       bool
	matchErr      error
	matchMetaMeta domain.DocumentMeta
	matchMetaOK   bool
	matchMetaErr  error
	added         []domain.Answer
	addErr        error
	deleteN       int
	deleteErr     error
	getMeta       domain.DocumentMeta
	getErr        error
	cleanupN      int
	cleanupErr    error
}

func (m *mockCoordinator) Match(_ context.Context, _ string) (domain.Answer, bool, error) {
	return m.matchAnswer, m.matchOK, m.matchErr
}

func (m *mockCoordinator) MatchMeta(_ context.Context, _ string) (domain.DocumentMeta, float64, bool, error) {
	return m.matchMetaMeta, 0.9, m.matchMetaOK, m.matchMetaErr
}

func (m *mockCoordinator) AddDocument(_ context.Context, a domain.Answer) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, a)
	return nil
}

func (m *mockCoordinator) DeleteDocument(_ context.Context, _ string) (int, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return m.deleteN, nil
}

func (m *mockCoordinator) GetDocument(_ context.Context, _ string) (domain.DocumentMeta, error) {
	return m.getMeta, m.getErr
}

func (m *mockCoordinator) Cleanup(_ context.Context) (int, error) { return m.cleanupN, m.cleanupErr }

type mockGenerator struct {
	answer string
	err    error
	calls  int
}

func (m *mockGenerator) Generate(_ context.Context, _ string) (string, error) {
	m.calls++
	return m.answer, m.err
}

func (m *mockGenerator) Model() string { return "gpt-3.5-turbo" }

func newTestService(coord *mockCoordinator, gen *mockGenerator) *Service {
	return New(coord, gen, zap.NewNop())
}

// --- Query ---

func TestQuery_EmptyQuestion(t *testing.T) {
	svc := newTestService(&mockCoordinator{}, &mockGenerator{})

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := svc.Query(context.Background(), q)
		if !errors.Is(err, domain.ErrEmptyQuestion) {
			t.Errorf("question %q: expected ErrEmptyQuestion, got %v", q, err)
		}
	}
}

func TestQuery_IndexedMatchSkipsLLM(t *testing.T) {
	coord := &mockCoordinator{
		matchAnswer: domain.Answer{
			Question:        "what is a birdie",
			MatchedQuestion: "what is a birdie",
			Source:          domain.SourceKnowledgeBase,
			Answer:          "one under par",
		},
		matchOK: true,
	}
	gen := &mockGenerator{}
	svc := newTestService(coord, gen)

	a, err := svc.Query(context.Background(), "what is a birdie")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Answer != "one under par" {
		t.Errorf("unexpected answer: %q", a.Answer)
	}
	if gen.calls != 0 {
		t.Errorf("expected LLM not called on match, got %d calls", gen.calls)
	}
	if len(coord.added) != 0 {
		t.Errorf("expected nothing stored on match, got %d", len(coord.added))
	}
}

func TestQuery_LLMFallbackStoresAnswer(t *testing.T) {
	coord := &mockCoordinator{}
	gen := &mockGenerator{answer: "keep your left arm straight"}
	svc := newTestService(coord, gen)

	a, err := svc.Query(context.Background(), "  how do I drive further  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Question != "how do I drive further" {
		t.Errorf("expected trimmed question, got %q", a.Question)
	}
	if a.Source != domain.Source("gpt-3.5-turbo") {
		t.Errorf("expected model provenance, got %s", a.Source)
	}
	if a.Answer != "keep your left arm straight" {
		t.Errorf("unexpected answer: %q", a.Answer)
	}
	if len(coord.added) != 1 {
		t.Fatalf("expected generated answer stored, got %d", len(coord.added))
	}
	if coord.added[0].Question != "how do I drive further" {
		t.Errorf("unexpected stored question: %q", coord.added[0].Question)
	}
}

func TestQuery_IrrelevantNotStored(t *testing.T) {
	coord := &mockCoordinator{}
	gen := &mockGenerator{answer: domain.IrrelevantAnswerID}
	svc := newTestService(coord, gen)

	a, err := svc.Query(context.Background(), "what is the capital of France")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Answer != domain.IrrelevantAnswer {
		t.Errorf("expected canonical refusal, got %q", a.Answer)
	}
	if len(coord.added) != 0 {
		t.Errorf("expected off-topic answer not stored, got %d", len(coord.added))
	}
}

func TestQuery_LLMError(t *testing.T) {
	coord := &mockCoordinator{}
	gen := &mockGenerator{err: domain.ErrLLMUnavailable}
	svc := newTestService(coord, gen)

	_, err := svc.Query(context.Background(), "what is a birdie")
	if !errors.Is(err, domain.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
}

func TestQuery_StoreFailureStillReturnsAnswer(t *testing.T) {
	coord := &mockCoordinator{addErr: errors.New("store down")}
	gen := &mockGenerator{answer: "bend your knees"}
	svc := newTestService(coord, gen)

	a, err := svc.Query(context.Background(), "how to putt better")
	if err != nil {
		t.Fatalf("expected answer despite store failure, got %v", err)
	}
	if a.Answer != "bend your knees" {
		t.Errorf("unexpected answer: %q", a.Answer)
	}
}

// --- GetDocument ---

func TestGetDocument_ByID(t *testing.T) {
	coord := &mockCoordinator{getMeta: domain.DocumentMeta{
		DocID:           "abc",
		Question:        "what is a birdie",
		Source:          domain.SourceKnowledgeBase,
		Answer:          "one under par",
		InsertTimestamp: domain.NowMs(),
		QueryTimestamps: []int64{domain.NowMs()},
	}}
	svc := newTestService(coord, &mockGenerator{})

	r, err := svc.GetDocument(context.Background(), "abc", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.DocID != "abc" {
		t.Errorf("unexpected doc id: %s", r.DocID)
	}
	if r.QueryCount7Day != 1 {
		t.Errorf("expected query count 1, got %d", r.QueryCount7Day)
	}
	if r.InsertTime == "" {
		t.Error("expected human-readable insert time")
	}
}

func TestGetDocument_Fuzzy(t *testing.T) {
	coord := &mockCoordinator{
		matchMetaMeta: domain.DocumentMeta{DocID: "xyz", Question: "what is a birdie"},
		matchMetaOK:   true,
	}
	svc := newTestService(coord, &mockGenerator{})

	r, err := svc.GetDocument(context.Background(), "what does birdie mean", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.DocID != "xyz" {
		t.Errorf("unexpected doc id: %s", r.DocID)
	}
}

func TestGetDocument_FuzzyMiss(t *testing.T) {
	coord := &mockCoordinator{matchMetaOK: false}
	svc := newTestService(coord, &mockGenerator{})

	_, err := svc.GetDocument(context.Background(), "unrelated", true)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- Delete / Cleanup ---

func TestDelete_PassesThrough(t *testing.T) {
	coord := &mockCoordinator{deleteN: 1}
	svc := newTestService(coord, &mockGenerator{})

	n, err := svc.Delete(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
}

func TestDelete_NotFound(t *testing.T) {
	coord := &mockCoordinator{deleteErr: domain.ErrNotFound}
	svc := newTestService(coord, &mockGenerator{})

	_, err := svc.Delete(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanup_PassesThrough(t *testing.T) {
	coord := &mockCoordinator{cleanupN: 7}
	svc := newTestService(coord, &mockGenerator{})

	n, err := svc.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 removed, got %d", n)
	}
}
