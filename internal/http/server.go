package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"warga/internal/cache"
	"warga/internal/core"
	applog "warga/internal/log"
	"warga/internal/services"
)

type Server struct {
	http.Server
	ledger      *services.LedgerService
	backup      *services.BackupService
	adminToken  string
	rateLimiter *rateLimiter

	// Read-side caches keyed by period. Every write handler purges
	// both so a stale rollup never survives a mutation.
	dashboardCache *cache.LRUCache[services.MonthDashboard]
	seriesCache    *cache.LRUCache[[]core.MonthPoint]
	cacheManager   *cache.Manager

	shutdownOnce sync.Once
}

// Options carries the tunables NewServer needs beyond its collaborators.
type Options struct {
	AdminToken string
	CacheSize  int
	CacheTTL   time.Duration
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, ledger *services.LedgerService, backup *services.BackupService, opts Options) *Server {
	mux := http.NewServeMux()

	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		ledger:         ledger,
		backup:         backup,
		adminToken:     opts.AdminToken,
		rateLimiter:    newRateLimiter(),
		dashboardCache: cache.NewLRUCache[services.MonthDashboard](opts.CacheSize, opts.CacheTTL),
		seriesCache:    cache.NewLRUCache[[]core.MonthPoint](opts.CacheSize, opts.CacheTTL),
		cacheManager:   cache.NewManager(),
	}

	s.cacheManager.Register(s.dashboardCache)
	s.cacheManager.Register(s.seriesCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	// Ledger reads
	mux.HandleFunc("GET /api/dashboard", s.withMiddleware(s.handleDashboard))
	mux.HandleFunc("GET /api/dashboard/year", s.withMiddleware(s.handleYearSeries))
	mux.HandleFunc("GET /api/dues/voluntary", s.withMiddleware(s.handleVoluntaryDues))

	// Residents
	mux.HandleFunc("GET /api/residents", s.withMiddleware(s.handleListResidents))
	mux.HandleFunc("POST /api/residents", s.withMiddleware(s.handleSaveResident))
	mux.HandleFunc("DELETE /api/residents/{id}", s.withMiddleware(s.handleDeleteResident))

	// Expenses
	mux.HandleFunc("GET /api/expenses", s.withMiddleware(s.handleListExpenses))
	mux.HandleFunc("POST /api/expenses", s.withMiddleware(s.handleRecordExpense))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.withMiddleware(s.handleDeleteExpense))

	// Dues
	mux.HandleFunc("POST /api/dues/toggle", s.withMiddleware(s.handleToggleDues))

	// Comments
	mux.HandleFunc("GET /api/comments", s.withMiddleware(s.handleListComments))
	mux.HandleFunc("POST /api/comments", s.withMiddleware(s.handleAddComment))
	mux.HandleFunc("DELETE /api/comments/{id}", s.withMiddleware(s.handleDeleteComment))

	// Backup and snapshots, behind the admin token.
	mux.HandleFunc("GET /api/backup/export", s.withMiddleware(s.requireAdmin(s.handleExport)))
	mux.HandleFunc("POST /api/backup/restore", s.withMiddleware(s.requireAdmin(s.handleRestore)))
	mux.HandleFunc("GET /api/backup/state", s.withMiddleware(s.requireAdmin(s.handleBackupState)))
	mux.HandleFunc("GET /api/snapshots", s.withMiddleware(s.requireAdmin(s.handleListSnapshots)))
	mux.HandleFunc("POST /api/snapshots", s.withMiddleware(s.requireAdmin(s.handleCreateSnapshot)))
	mux.HandleFunc("DELETE /api/snapshots/{name}", s.withMiddleware(s.requireAdmin(s.handleDeleteSnapshot)))
	mux.HandleFunc("POST /api/snapshots/{name}/restore", s.withMiddleware(s.requireAdmin(s.handleRestoreSnapshot)))

	return s
}

// withMiddleware adds security headers, rate limiting, and request
// logging to a handler.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, clientIP)

		if isMutation(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, time.Since(start).Milliseconds(),
			applog.FieldClientIP, clientIP)
	}
}

// requireAdmin gates a handler behind the configured admin token. With
// no token configured the gated endpoints are disabled outright rather
// than left open.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints are disabled: no admin token configured")
			return
		}
		token := r.Header.Get("Authorization")
		token = trimBearer(token)
		if token == "" {
			token = r.Header.Get("X-Admin-Token")
		}
		if token != s.adminToken {
			slog.WarnContext(r.Context(), "Admin auth failed", applog.FieldPath, r.URL.Path, applog.FieldClientIP, extractClientIP(r))
			writeError(w, http.StatusUnauthorized, "invalid or missing admin token")
			return
		}
		next(w, r)
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.cacheManager != nil {
			s.cacheManager.Stop()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// invalidateReads drops both read caches. Mutations touch a single
// period at most, but purging everything keeps the invariant simple:
// no cached rollup outlives any write.
func (s *Server) invalidateReads() {
	s.dashboardCache.Purge()
	s.seriesCache.Purge()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
