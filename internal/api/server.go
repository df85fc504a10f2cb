package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"RewardPool/internal/ledger"
	"RewardPool/internal/metrics"
	"RewardPool/internal/model"
	"RewardPool/internal/recorder"
)

// PrincipalHeader carries the caller identity established by an upstream
// authenticating proxy.
const PrincipalHeader = "X-Participant"

// RoleManager administers capability membership.
type RoleManager interface {
	Grant(caller, principal string, c model.Capability) error
	Revoke(caller, principal string, c model.Capability) error
	Members(c model.Capability) []string
}

// Config holds the server dependencies.
type Config struct {
	ListenAddr  string
	Ledger      *ledger.Ledger
	Roles       RoleManager
	Recorder    recorder.Recorder
	RateLimiter *RateLimiter
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

// Server is the HTTP API of the reward pool.
type Server struct {
	router  *chi.Mux
	ledger  *ledger.Ledger
	roles   RoleManager
	rec     recorder.Recorder
	limiter *RateLimiter
	clock   clockwork.Clock
	log     *slog.Logger
	srv     *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = recorder.NewNoopRecorder()
	}
	s := &Server{
		router:  chi.NewRouter(),
		ledger:  cfg.Ledger,
		roles:   cfg.Roles,
		rec:     cfg.Recorder,
		limiter: cfg.RateLimiter,
		clock:   cfg.Clock,
		log:     cfg.Logger,
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", PrincipalHeader},
		MaxAge:         300,
	}))
	s.router.Use(metrics.Middleware)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Use(requirePrincipal)
		r.Post("/deposit", s.handleDeposit)
		r.Post("/rewards", s.handleDepositReward)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/roles/grant", s.handleGrant)
		r.Post("/roles/revoke", s.handleRevoke)
	})

	s.router.Get("/periods/current", s.handleCurrentPeriod)
	s.router.Get("/periods/{id}", s.handlePeriod)
	s.router.Get("/periods/{id}/contributions/{participant}", s.handleContribution)
	s.router.Get("/balances/{participant}", s.handleBalance)
	s.router.Get("/rewards/last", s.handleLastReward)
	s.router.Get("/totals", s.handleTotals)
	s.router.Get("/events", s.handleEvents)
	s.router.Get("/roles/{capability}", s.handleMembers)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"principal", r.Header.Get(PrincipalHeader),
		)
	})
}

func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(PrincipalHeader) == "" {
			writeError(w, http.StatusUnauthorized, "missing_principal", PrincipalHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
