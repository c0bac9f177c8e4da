package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spigell/career-matcher/internal/matching"
	"github.com/spigell/career-matcher/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultAddress         = ":8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultPipelineTimeout = 58 * time.Second
	shutdownTimeout        = 15 * time.Second
	maxBodyBytes           = 1 << 20
)

// Matcher runs the matching pipeline.
type Matcher interface {
	Run(ctx context.Context, req matching.Request) (*matching.Result, error)
}

// readyChecker is implemented by matchers that can refuse a run before any I/O.
type readyChecker interface {
	Ready() error
}

// Completer sets the completion flag only.
type Completer interface {
	Complete(ctx context.Context, assessmentID string) error
}

// Store is the read side used by the handlers.
type Store interface {
	GetAssessment(ctx context.Context, id string) (store.Assessment, error)
	ListAssessments(ctx context.Context, userID string) ([]store.Assessment, error)
	ListMatches(ctx context.Context, assessmentID string) ([]store.MatchResult, error)
	Ping(ctx context.Context) error
}

type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PipelineTimeout time.Duration
}

// Server exposes the matching pipeline and result pages over HTTP.
type Server struct {
	cfg       Config
	matcher   Matcher
	completer Completer
	store     Store
	auth      Authenticator
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

type Option func(*Server)

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func New(cfg Config, matcher Matcher, completer Completer, st Store, auth Authenticator, logger *zap.Logger, opts ...Option) (*Server, error) {
	switch {
	case matcher == nil:
		return nil, errors.New("matcher is required")
	case completer == nil:
		return nil, errors.New("completer is required")
	case st == nil:
		return nil, errors.New("store is required")
	case auth == nil:
		return nil, errors.New("authenticator is required")
	}

	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = defaultPipelineTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:       cfg,
		matcher:   matcher,
		completer: completer,
		store:     st,
		auth:      auth,
		gatherer:  prometheus.DefaultGatherer,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Handler returns the routed handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /match-careers", s.handleMatch)
	mux.HandleFunc("POST /functions/v1/match-careers", s.handleMatch)
	mux.HandleFunc("GET /assessments", s.handleListAssessments)
	mux.HandleFunc("GET /assessments/{id}/matches", s.handleListMatches)
	mux.HandleFunc("POST /assessments/{id}/complete", s.handleComplete)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return s.withRequestID(withCORS(mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("address", s.cfg.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	return nil
}
