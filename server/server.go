// Package server exposes the news lookup API over HTTP. Error responses
// follow the msg-item convention: a JSON list with a single {"msg": ...}
// element and a matching status code.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/catowabisabi/newsfilter/pkg/cache"
	"github.com/catowabisabi/newsfilter/pkg/domain"
	"github.com/catowabisabi/newsfilter/pkg/metrics"
	"github.com/catowabisabi/newsfilter/pkg/newsfilter"
	"github.com/catowabisabi/newsfilter/pkg/repository"
	"github.com/catowabisabi/newsfilter/pkg/worker"
)

// fastLimitCap bounds the limit query parameter on the fast endpoint
const fastLimitCap = 50

// NewsService is the direct pipeline surface, used by the fast endpoint
type NewsService interface {
	GetSymbolNews(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error)
}

// Pool is the queued lookup surface, used by the main endpoint
type Pool interface {
	Submit(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error)
	QueueDepth() int
	Workers() int
}

// AuthAdmin exposes the auth admin operations and state
type AuthAdmin interface {
	Status(ctx context.Context) newsfilter.AuthStatus
	ResetFailure(ctx context.Context) error
	ForceRefresh(ctx context.Context) error
}

// Maintenance triggers an on-demand cleanup sweep
type Maintenance interface {
	RunCleanup(ctx context.Context)
}

// StatsSource aggregates storage statistics
type StatsSource interface {
	ArticleStats(ctx context.Context) (total int, topSymbols []repository.SymbolCount, err error)
	ActiveTokens(ctx context.Context) (int, error)
	CacheStats(ctx context.Context) (cache.Stats, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// Server represents the HTTP server instance
type Server struct {
	config  ConfigProvider
	news    NewsService
	pool    Pool
	auth    AuthAdmin
	maint   Maintenance
	stats   StatsSource
	metrics *metrics.Metrics
	version string
	debug   bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// New initializes a new server instance
func New(cfg ConfigProvider, news NewsService, pool Pool, auth AuthAdmin,
	maint Maintenance, stats StatsSource, m *metrics.Metrics, version string, debug bool) *Server {

	s := &Server{
		config:  cfg,
		news:    news,
		pool:    pool,
		auth:    auth,
		maint:   maint,
		stats:   stats,
		metrics: m,
		version: version,
		debug:   debug,
		router:  routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("newsfilter", "catowabisabi", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /", s.rootHandler)
	s.router.HandleFunc("GET /health", s.healthHandler)
	s.router.HandleFunc("GET /news/symbol/{symbol}", s.newsHandler)
	s.router.HandleFunc("GET /news/symbol/{symbol}/fast", s.newsFastHandler)
	s.router.HandleFunc("GET /stats", s.statsHandler)
	s.router.HandleFunc("POST /admin/reset-auth", s.resetAuthHandler)
	s.router.HandleFunc("POST /cache/cleanup", s.cleanupHandler)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics.Handler())
	}
}

// rootHandler describes the API
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	RenderJSON(w, http.StatusOK, map[string]any{
		"message": "newsfilter api",
		"version": s.version,
		"endpoints": []string{
			"GET /news/symbol/{symbol}",
			"GET /news/symbol/{symbol}/fast?limit=20",
			"GET /stats",
			"GET /health",
			"POST /admin/reset-auth",
			"POST /cache/cleanup",
		},
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	RenderJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now().Unix()})
}

// newsHandler is the main lookup endpoint, queued through the worker pool
func (s *Server) newsHandler(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	started := time.Now()

	items, err := s.pool.Submit(r.Context(), symbol, 10)
	s.observe("/news/symbol/{symbol}", err, started)

	if err != nil {
		s.renderLookupError(w, symbol, err)
		return
	}
	RenderJSON(w, http.StatusOK, items)
}

// lookupStatus maps a pipeline error to its response code
func lookupStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, newsfilter.ErrCooldown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// newsFastHandler skips the queue and reads the pipeline directly
func (s *Server) newsFastHandler(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	started := time.Now()

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit < 1 {
			s.renderMsg(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if limit > fastLimitCap {
		limit = fastLimitCap
	}

	items, err := s.news.GetSymbolNews(r.Context(), symbol, limit)
	s.observe("/news/symbol/{symbol}/fast", err, started)

	if err != nil {
		s.renderLookupError(w, symbol, err)
		return
	}
	RenderJSON(w, http.StatusOK, items)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, topSymbols, err := s.stats.ArticleStats(ctx)
	if err != nil {
		lgr.Printf("[WARN] article stats: %v", err)
	}
	activeTokens, err := s.stats.ActiveTokens(ctx)
	if err != nil {
		lgr.Printf("[WARN] token stats: %v", err)
	}
	cacheStats, err := s.stats.CacheStats(ctx)
	if err != nil {
		lgr.Printf("[WARN] cache stats: %v", err)
	}

	RenderJSON(w, http.StatusOK, map[string]any{
		"auth": s.auth.Status(ctx),
		"cache": map[string]any{
			"entries": cacheStats.Entries,
			"symbols": cacheStats.Symbols,
		},
		"database": map[string]any{
			"total_articles": total,
			"top_symbols":    topSymbols,
			"active_tokens":  activeTokens,
		},
		"worker": map[string]any{
			"queue_depth": s.pool.QueueDepth(),
			"workers":     s.pool.Workers(),
		},
		"service_status": "running",
	})
}

// resetAuthHandler clears the login cooldown; with force=1 it also drops
// the stored token and performs a fresh login.
func (s *Server) resetAuthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Query().Get("force") == "1" {
		if err := s.auth.ForceRefresh(ctx); err != nil {
			s.renderMsg(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh auth: %v", err))
			return
		}
		RenderJSON(w, http.StatusOK, map[string]string{"message": "Auth refreshed successfully", "status": "success"})
		return
	}

	if err := s.auth.ResetFailure(ctx); err != nil {
		s.renderMsg(w, http.StatusInternalServerError, fmt.Sprintf("Failed to reset auth: %v", err))
		return
	}
	RenderJSON(w, http.StatusOK, map[string]string{"message": "Auth failure status cleared successfully", "status": "success"})
}

func (s *Server) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	s.maint.RunCleanup(r.Context())
	RenderJSON(w, http.StatusOK, map[string]string{"message": "Cache cleanup completed", "status": "success"})
}

// renderLookupError maps pipeline errors to the msg-item convention:
// provider cooldown is a 503, a pool timeout and everything else a 500.
func (s *Server) renderLookupError(w http.ResponseWriter, symbol string, err error) {
	switch {
	case errors.Is(err, newsfilter.ErrCooldown):
		s.renderMsg(w, http.StatusServiceUnavailable, "NewsFilter Fail")
	case errors.Is(err, worker.ErrBusy):
		if s.metrics != nil {
			s.metrics.BusyRejection()
		}
		s.renderMsg(w, http.StatusInternalServerError, "Request timed out, server busy")
	default:
		lgr.Printf("[ERROR] lookup %s: %v", symbol, err)
		s.renderMsg(w, http.StatusInternalServerError, fmt.Sprintf("Error: %v", err))
	}
}

// renderMsg writes the msg-item error list
func (s *Server) renderMsg(w http.ResponseWriter, code int, msg string) {
	RenderJSON(w, code, domain.ErrorResult(msg))
}

func (s *Server) observe(route string, err error, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRequest(route, lookupStatus(err), time.Since(started))
}

// RenderJSON sends a JSON response
func RenderJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}
