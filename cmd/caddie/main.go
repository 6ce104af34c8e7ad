package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/config"
	"github.com/pengxiaoo/caddie/internal/db"
	dbRedis "github.com/pengxiaoo/caddie/internal/db/redis"
	"github.com/pengxiaoo/caddie/internal/domain"
	"github.com/pengxiaoo/caddie/internal/index"
	"github.com/pengxiaoo/caddie/internal/kb"
	logpkg "github.com/pengxiaoo/caddie/internal/logger"
	"github.com/pengxiaoo/caddie/internal/metrics"
	chatlogrepo "github.com/pengxiaoo/caddie/internal/repository/chatlog"
	"github.com/pengxiaoo/caddie/internal/repository/embcache"
	metarepo "github.com/pengxiaoo/caddie/internal/repository/meta"
	chiTransport "github.com/pengxiaoo/caddie/internal/transport/chi"
	"github.com/pengxiaoo/caddie/internal/transport/openai"
	chatuc "github.com/pengxiaoo/caddie/internal/usecase/chat"
	healthuc "github.com/pengxiaoo/caddie/internal/usecase/health"
	qauc "github.com/pengxiaoo/caddie/internal/usecase/qa"
	storageuc "github.com/pengxiaoo/caddie/internal/usecase/storage"
	"github.com/pengxiaoo/caddie/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting caddie API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterQAMetrics()

	embedder := buildEmbedder(cfg, store, logger)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	llm := openai.NewLLM(&openai.LLMConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Logger:      logger,
	})

	// Repositories and the semantic index
	metaRepo := metarepo.New(store, cfg.Index.MetaSizeLimit)
	chatRepo := chatlogrepo.New(store, cfg.Chat.HistoryLimit)
	semIndex := index.New(embedder, cfg.Index.SimilarityCutoff)

	coordinator := storageuc.New(metaRepo, semIndex, &storageuc.Config{
		SnapshotPath:    cfg.Index.SnapshotPath,
		PersistInterval: time.Duration(cfg.Index.PersistIntervalSec) * time.Second,
		Env:             env,
		Logger:          logger,
	})

	knowledgeBase, err := kb.LoadFile(cfg.Index.KnowledgeBaseCSV)
	if err != nil {
		logger.Fatal("Failed to load knowledge base", zap.Error(err))
	}
	if err := coordinator.Initialize(ctx, knowledgeBase); err != nil {
		logger.Fatal("Failed to initialize index storage", zap.Error(err))
	}
	logger.Info("Index storage initialized",
		zap.Int("knowledge_base_entries", len(knowledgeBase)),
		zap.Int("indexed_documents", semIndex.Len()),
	)

	// Use case services
	qaSvc := qauc.New(coordinator, llm, logger)
	sessions := chatuc.NewSessionCache(cfg.Chat.SessionCapacity, chatRepo, coordinator, llm, logger)
	healthSvc := healthuc.New(store, embedderHealthChecker{embedder}, semIndex)

	server := chiTransport.NewServer(qaSvc, coordinator, sessionProvider{sessions}, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	if cfg.HTTP.RequestTimeoutSec > 0 {
		r.Use(chiMiddleware.Timeout(time.Duration(cfg.HTTP.RequestTimeoutSec) * time.Second))
	}
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Flush the index snapshot so a restart resumes without re-embedding.
	if err := coordinator.Shutdown(); err != nil {
		logger.Error("Failed to persist index snapshot", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached.
func buildEmbedder(cfg config.Config, store db.Store, logger *zap.Logger) domain.Embedder {
	base := openai.NewEmbedder(&openai.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	if store == nil {
		return base
	}
	ttl := time.Duration(cfg.Embedding.CacheDays) * 24 * time.Hour
	return embcache.New(base, store, ttl, metrics.EmbeddingCacheTotal, logger)
}

// sessionProvider adapts the chat session cache to the transport interface.
type sessionProvider struct {
	cache *chatuc.SessionCache
}

func (p sessionProvider) Session(conversationID string) (chiTransport.ChatSession, bool) {
	return p.cache.Get(conversationID)
}

// embedderHealthChecker surfaces the provider health probe when the chain's
// outermost embedder supports one.
type embedderHealthChecker struct {
	embedder domain.Embedder
}

func (h embedderHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(interface {
		HealthCheck(ctx context.Context) error
	}); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
