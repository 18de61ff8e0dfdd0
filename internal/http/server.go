// Package http exposes the JSON API: entry submission and CRUD, budget
// totals, profile and session management, and the chat endpoint.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"papi/internal/cache"
	"papi/internal/core"
	"papi/internal/identity"
	applog "papi/internal/log"
	"papi/internal/services"
	"papi/internal/session"
)

type Server struct {
	http.Server

	entries     *services.EntryService
	machine     *session.Machine
	verifier    identity.Verifier
	logger      *applog.Logger
	rateLimiter *rateLimiter

	// Budget aggregations are cached between writes
	budgetCache *cache.LRU[core.BudgetTotals]
	cacheMgr    *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, entries *services.EntryService, machine *session.Machine, verifier identity.Verifier, logger *applog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		entries:     entries,
		machine:     machine,
		verifier:    verifier,
		logger:      logger.WithComponent(applog.ComponentHTTP),
		rateLimiter: newRateLimiter(),
		budgetCache: cache.NewLRU[core.BudgetTotals](16, 5*time.Minute),
		cacheMgr:    cache.NewManager(),
	}

	s.cacheMgr.Register(s.budgetCache)
	s.cacheMgr.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("/api/entries", s.secured(s.handleSubmitEntry))
	mux.HandleFunc("/api/expenses", s.secured(s.handleExpenses))
	mux.HandleFunc("/api/expenses/image", s.secured(s.handleImageEntry))
	mux.HandleFunc("/api/expenses/", s.secured(s.handleExpenseByID))
	mux.HandleFunc("/api/budget", s.secured(s.handleBudget))
	mux.HandleFunc("/api/profile", s.secured(s.handleProfile))
	mux.HandleFunc("/api/session", s.secured(s.handleSession))
	mux.HandleFunc("/api/auth/google", s.secured(s.handleGoogleSignIn))
	mux.HandleFunc("/api/auth/signout", s.secured(s.handleSignOut))
	mux.HandleFunc("/api/ai-chat", s.secured(s.handleChat))

	return s
}

// secured adds security headers, rate limiting and request logging.
func (s *Server) secured(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := clientAddr(r)
		requestID := generateRequestID()

		logger := s.logger.With(applog.FieldRequestID, requestID)
		// Handlers pick the request logger back up via applog.FromContext.
		ctx := applog.NewContext(r.Context(), logger)

		logger.InfoContext(ctx, "Request started",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, clientIP,
			applog.FieldUserAgent, r.Header.Get("User-Agent"))

		// Rate limit mutating requests per client
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			logger.WarnContext(ctx, "Rate limit exceeded",
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
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r.WithContext(ctx))

		logger.InfoContext(ctx, "Request completed",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, time.Since(start).Milliseconds(),
			applog.FieldClientIP, clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// invalidateBudget drops cached aggregations after a write.
func (s *Server) invalidateBudget() {
	s.budgetCache.Purge()
}

// Shutdown stops the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheMgr.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
