package qa

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/domain"
	"github.com/pengxiaoo/caddie/internal/metrics"
)

// Service resolves questions: indexed match first, LLM fallback second.
type Service struct {
	coord  Coordinator
	llm    Generator
	logger *zap.Logger
}

// New creates an answer resolution service.
func New(coord Coordinator, llm Generator, logger *zap.Logger) *Service {
	return &Service{coord: coord, llm: llm, logger: logger}
}

// Query answers a question. A similarity hit returns the stored answer and
// bumps its popularity; otherwise the LLM generates one, which is stored
// for future matches unless the model flagged the question as off-topic.
func (s *Service) Query(ctx context.Context, question string) (domain.Answer, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return domain.Answer{}, domain.ErrEmptyQuestion
	}

	a, ok, err := s.coord.Match(ctx, q)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("match question: %w", err)
	}
	if ok {
		metrics.AnswerResolutionsTotal.WithLabelValues("match").Inc()
		return a, nil
	}

	raw, err := s.llm.Generate(ctx, q)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	if raw == domain.IrrelevantAnswerID {
		metrics.AnswerResolutionsTotal.WithLabelValues("irrelevant").Inc()
		return domain.NewAnswer("", q, domain.Source(s.llm.Model()), raw), nil
	}

	answer := domain.NewAnswer("", q, domain.Source(s.llm.Model()), raw)
	if err := s.coord.AddDocument(ctx, answer); err != nil {
		// The answer exists; failing to memoize it is not fatal.
		s.logger.Warn("Failed to store generated answer",
			zap.String("question", q), zap.Error(err))
	}

	metrics.AnswerResolutionsTotal.WithLabelValues("generated").Inc()
	return answer, nil
}

// GetDocument returns the admin view of a stored document. With fuzzy set,
// the id argument is treated as question text and resolved by similarity.
func (s *Service) GetDocument(ctx context.Context, idOrQuestion string, fuzzy bool) (domain.ReadableDocumentMeta, error) {
	if fuzzy {
		m, _, ok, err := s.coord.MatchMeta(ctx, idOrQuestion)
		if err != nil {
			return domain.ReadableDocumentMeta{}, fmt.Errorf("fuzzy lookup: %w", err)
		}
		if !ok {
			return domain.ReadableDocumentMeta{}, domain.ErrNotFound
		}
		return m.Readable(domain.NowMs()), nil
	}

	m, err := s.coord.GetDocument(ctx, idOrQuestion)
	if err != nil {
		return domain.ReadableDocumentMeta{}, err
	}
	return m.Readable(domain.NowMs()), nil
}

// Delete removes a document from index and metadata and returns the
// removed count.
func (s *Service) Delete(ctx context.Context, docID string) (int, error) {
	return s.coord.DeleteDocument(ctx, docID)
}

// Cleanup drops every non knowledge base document. Refused in prod by the
// coordinator.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	return s.coord.Cleanup(ctx)
}
