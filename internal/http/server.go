package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"budgetbook/internal/analytics"
	"budgetbook/internal/core"
	"budgetbook/internal/live"
	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

// Ledger is what the API needs from the ledger service.
type Ledger interface {
	AddTransaction(ctx context.Context, in core.TransactionInput) (core.Transaction, error)
	UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	SaveBudgetLimits(ctx context.Context, limits map[int64]decimal.Decimal) ([]core.BudgetLimit, error)
	ResetAll(ctx context.Context) error
	CompleteOnboarding(ctx context.Context, in services.OnboardingInput) (services.OnboardingResult, error)
	UpdateSettings(ctx context.Context, u services.SettingsUpdate) (core.Settings, error)
	IsOnboardingComplete(ctx context.Context) (bool, error)
	Dashboard(ctx context.Context, r analytics.TimeRange) (analytics.DashboardView, error)

	Settings(ctx context.Context) (core.Settings, error)
	Accounts(ctx context.Context) ([]core.Account, error)
	Categories(ctx context.Context) ([]core.Category, error)
	Transactions(ctx context.Context) ([]core.Transaction, error)
	BudgetLimits(ctx context.Context) ([]core.BudgetLimit, error)
}

type Server struct {
	http.Server
	ledger      Ledger
	hub         *live.Hub
	logger      *applog.Logger
	rateLimiter *rateLimiter
	metrics     *securityMetrics

	// heartbeat is the idle interval after which a stream sends a comment
	heartbeat    time.Duration
	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run server.
func NewServer(addr string, ledger Ledger, hub *live.Hub, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ledger:      ledger,
		hub:         hub,
		logger:      logger.WithComponent(applog.ComponentHTTP),
		rateLimiter: newRateLimiter(rateLimitRequests),
		metrics:     &securityMetrics{},
		heartbeat:   25 * time.Second,
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("GET /api/accounts", s.wrap(s.handleListAccounts))
	mux.Handle("PUT /api/accounts/{id}/balance", s.wrap(s.handleUpdateBalance))
	mux.Handle("GET /api/categories", s.wrap(s.handleListCategories))
	mux.Handle("GET /api/transactions", s.wrap(s.handleListTransactions))
	mux.Handle("POST /api/transactions", s.wrap(s.handleAddTransaction))
	mux.Handle("GET /api/budget-limits", s.wrap(s.handleListBudgetLimits))
	mux.Handle("PUT /api/budget-limits", s.wrap(s.handleSaveBudgetLimits))
	mux.Handle("GET /api/settings", s.wrap(s.handleGetSettings))
	mux.Handle("PATCH /api/settings", s.wrap(s.handleUpdateSettings))
	mux.Handle("GET /api/onboarding", s.wrap(s.handleOnboardingStatus))
	mux.Handle("POST /api/onboarding", s.wrap(s.handleCompleteOnboarding))
	mux.Handle("POST /api/reset", s.wrap(s.handleReset))
	mux.Handle("GET /api/dashboard", s.wrap(s.handleDashboard))
	mux.Handle("GET /api/dashboard/stream", s.wrap(s.handleDashboardStream))

	return s
}

// Shutdown stops the rate limiter, ends open streams and shuts the HTTP
// server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		if s.hub != nil {
			s.hub.Close()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// wrap puts a request-scoped logger with the request ID in the context,
// then applies security headers, rate limiting on writes and request logging.
func (s *Server) wrap(next http.HandlerFunc) http.Handler {
	return applog.Middleware(s.logger)(applog.RequestIDMiddleware(requestID)(s.guard(next)))
}

// requestID returns the caller's X-Request-ID, or a fresh one written back
// onto the request so every later reader sees the same value.
func requestID(r *http.Request) string {
	id := r.Header.Get("X-Request-ID")
	if id == "" || len(id) > 64 {
		id = uuid.NewString()
		r.Header.Set("X-Request-ID", id)
	}
	return id
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		ctx := r.Context()
		logger := applog.FromContext(ctx)

		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		if isSuspicious(r, s.metrics) {
			logger.WarnContext(ctx, "Suspicious request", applog.FieldClientIP, clientIP, applog.FieldPath, r.URL.Path)
		}

		if isWrite(r.Method) && !s.rateLimiter.allow(clientIP, start, s.metrics) {
			logger.WithComponent(applog.ComponentRateLimit).WarnContext(ctx, "Rate limit exceeded",
				applog.FieldClientIP, clientIP, applog.FieldMethod, r.Method, applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded, please try again later"})
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		applog.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	}
}

func isWrite(method string) bool {
	return method != http.MethodGet && method != http.MethodHead && method != http.MethodOptions
}

// responseWriter captures the status code and passes flushes through for
// event streams.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports ready once the store answers a query.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.ledger.IsOnboardingComplete(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Readiness check failed", applog.FieldError, err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
