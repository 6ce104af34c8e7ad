package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/domain"
	healthuc "github.com/pengxiaoo/caddie/internal/usecase/health"
)

const defaultPageSize = 20

// Error codes returned to clients.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "document_not_found"
	codeStoreUnavailable = "store_unavailable"
	codeLLMUnavailable   = "llm_unavailable"
	codeEmbeddingError   = "embedding_provider_error"
	codeCleanupForbidden = "cleanup_forbidden"
	codeInternalError    = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QAService answers questions and manages stored documents.
type QAService interface {
	Query(ctx context.Context, question string) (domain.Answer, error)
	GetDocument(ctx context.Context, idOrQuestion string, fuzzy bool) (domain.ReadableDocumentMeta, error)
	Delete(ctx context.Context, docID string) (int, error)
	Cleanup(ctx context.Context) (int, error)
}

// DocumentBrowser pages through stored document metadata.
type DocumentBrowser interface {
	Documents(ctx context.Context, offset, limit int) ([]domain.ReadableDocumentMeta, int, error)
}

// ChatSession is one bound conversation.
type ChatSession interface {
	ConversationID() string
	Chat(ctx context.Context, content string) (domain.Message, error)
	ChatStream(ctx context.Context, content string) (<-chan string, error)
}

// SessionProvider resolves a conversation id to its session, creating one
// when needed. An empty id starts a new conversation.
type SessionProvider interface {
	Session(conversationID string) (ChatSession, bool)
}

// HealthService aggregates component health checks.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the QA, index admin and chat APIs over HTTP.
type Server struct {
	qa            QAService
	browser       DocumentBrowser
	sessions      SessionProvider
	health        HealthService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	qa QAService,
	browser DocumentBrowser,
	sessions SessionProvider,
	health HealthService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		qa:       qa,
		browser:  browser,
		sessions: sessions,
		health:   health,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrEmptyQuestion, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrMetaNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrCleanupForbidden, http.StatusForbidden, codeCleanupForbidden),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable),
		sentinelHandler(domain.ErrLLMUnavailable, http.StatusBadGateway, codeLLMUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingError),
	}
	return s
}

// Routes mounts all handlers on a router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/qa/query", s.Query)

		r.Route("/index/documents", func(r chi.Router) {
			r.Get("/", s.ListDocuments)
			r.Get("/{docID}", s.GetDocument)
			r.Delete("/{docID}", s.DeleteDocument)
		})

		r.Post("/admin/cleanup", s.Cleanup)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/non-streaming", s.Chat)
			r.Post("/streaming", s.ChatStream)
		})
	})
}

// QueryRequest is the body of POST /api/v1/qa/query.
type QueryRequest struct {
	Question string `json:"question"`
}

// Query handles POST /api/v1/qa/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	answer, err := s.qa.Query(r.Context(), req.Question)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// DocumentListResponse is the body of GET /api/v1/index/documents.
type DocumentListResponse struct {
	Items  []domain.ReadableDocumentMeta `json:"items"`
	Total  int                           `json:"total"`
	Offset int                           `json:"offset"`
	Limit  int                           `json:"limit"`
}

// ListDocuments handles GET /api/v1/index/documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultPageSize)
	if offset < 0 || limit <= 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "offset must be >= 0 and limit > 0")
		return
	}

	items, total, err := s.browser.Documents(r.Context(), offset, limit)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if items == nil {
		items = []domain.ReadableDocumentMeta{}
	}

	writeJSON(w, http.StatusOK, DocumentListResponse{
		Items:  items,
		Total:  total,
		Offset: offset,
		Limit:  limit,
	})
}

// GetDocument handles GET /api/v1/index/documents/{docID}. With ?fuzzy=true
// the path segment is treated as a question and resolved by similarity.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	fuzzy := r.URL.Query().Get("fuzzy") == "true"

	meta, err := s.qa.GetDocument(r.Context(), docID, fuzzy)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// DeleteResponse is the body of DELETE /api/v1/index/documents/{docID}.
type DeleteResponse struct {
	Deleted int    `json:"deleted"`
	DocID   string `json:"doc_id"`
}

// DeleteDocument handles DELETE /api/v1/index/documents/{docID}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	deleted, err := s.qa.Delete(r.Context(), docID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: deleted, DocID: docID})
}

// CleanupResponse is the body of POST /api/v1/admin/cleanup.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// Cleanup handles POST /api/v1/admin/cleanup.
func (s *Server) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.qa.Cleanup(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CleanupResponse{Removed: removed})
}

// ChatRequest is the body of both chat endpoints. An empty conversation id
// starts a new conversation.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// Chat handles POST /api/v1/chat/non-streaming.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	session, _ := s.sessions.Session(req.ConversationID)
	reply, err := session.Chat(r.Context(), req.Content)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// ChatStream handles POST /api/v1/chat/streaming. The reply is sent as
// server-sent events, one data line per text chunk, terminated by [DONE].
// The conversation id is echoed in the X-Conversation-ID header.
func (s *Server) ChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported")
		return
	}

	session, _ := s.sessions.Session(req.ConversationID)
	chunks, err := session.ChatStream(r.Context(), req.Content)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Conversation-ID", session.ConversationID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for chunk := range chunks {
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if err := enc.Encode(map[string]string{"delta": chunk}); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return
		}
		flusher.Flush()
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":          report.Status,
		"checks":          report.Checks,
		"index_documents": report.IndexDocuments,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrEmptyQuestion,
		domain.ErrNotFound,
		domain.ErrMetaNotFound,
		domain.ErrCleanupForbidden,
		domain.ErrStoreUnavailable,
		domain.ErrLLMUnavailable,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
