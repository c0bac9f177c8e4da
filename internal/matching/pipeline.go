package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spigell/career-matcher/internal/ai"
	"github.com/spigell/career-matcher/internal/logger"
	"github.com/spigell/career-matcher/internal/runlock"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/spigell/career-matcher/internal/matching"

	defaultMaxLogLength = 200
)

// Step names, used in logs, spans, metrics and errors.
const (
	StepValidate = "validate"
	StepLock     = "lock"
	StepCatalog  = "catalog"
	StepPrompt   = "prompt"
	StepScoring  = "scoring"
	StepParse    = "parse"
	StepPersist  = "persist"
)

// Locker guards against concurrent runs for one assessment.
type Locker interface {
	Acquire(ctx context.Context, assessmentID string) (release func(context.Context) error, err error)
}

// Request is the input of one matching run.
type Request struct {
	AssessmentID string
	Answers      []Answer
}

// Result is the outcome of a successful run.
type Result struct {
	// Matches is the number of stored match rows.
	Matches int
	Tuples  []Match
}

// Pipeline runs catalog read, prompt rendering, scoring, parsing and
// persistence for one assessment. It keeps no state between runs.
type Pipeline struct {
	catalog   CatalogReader
	generator ai.Generator
	persister *Persister
	logger    *zap.Logger

	locker    Locker
	tracer    trace.Tracer
	metrics   *Metrics
	maxLogLen int
}

type Option func(*Pipeline)

func WithLocker(l Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithMaxLogLength bounds previews of prompts and model output in logs.
func WithMaxLogLength(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxLogLen = n
		}
	}
}

// NewPipeline validates its collaborators once. Runs never re-check them.
func NewPipeline(catalog CatalogReader, generator ai.Generator, persister *Persister, log *zap.Logger, opts ...Option) (*Pipeline, error) {
	switch {
	case catalog == nil:
		return nil, errors.New("catalog reader is required")
	case generator == nil:
		return nil, fmt.Errorf("%w: generator is required", ai.ErrMisconfigured)
	case persister == nil || persister.store == nil:
		return nil, errors.New("persister is required")
	}

	p := &Pipeline{
		catalog:   catalog,
		generator: generator,
		persister: persister,
		logger:    logger.WithCommonFields(log, generator.Provider(), generator.Model()),
		tracer:    otel.Tracer(tracerName),
		maxLogLen: defaultMaxLogLength,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Run executes one matching run. Errors are *Error values classified by Kind.
func (p *Pipeline) Run(ctx context.Context, req Request) (result *Result, err error) {
	log := logger.WithFields(p.logger, logger.RunFields(req.AssessmentID, "")...)

	ctx, span := p.tracer.Start(ctx, "matching.run",
		trace.WithAttributes(attribute.String("assessment.id", req.AssessmentID)),
	)
	defer span.End()

	defer func() {
		stored := 0
		if result != nil {
			stored = result.Matches
		}
		var runErr *Error
		if errors.As(err, &runErr) {
			stored = runErr.Written
		}

		p.metrics.observeRun(KindOf(err), stored)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		}
	}()

	if err := validateRequest(req); err != nil {
		return nil, newError(StepValidate, req.AssessmentID, err)
	}

	// Missing credentials fail the run before any I/O.
	if err := p.Ready(); err != nil {
		return nil, newError(StepScoring, req.AssessmentID, err)
	}

	log.Info("matching started", zap.Int("answers", len(req.Answers)))

	if p.locker != nil {
		release, err := p.locker.Acquire(ctx, req.AssessmentID)
		switch {
		case errors.Is(err, runlock.ErrLocked):
			return nil, newError(StepLock, req.AssessmentID, err)
		case err != nil:
			log.Warn("run lock unavailable, continuing without it", zap.Error(err))
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("releasing run lock", zap.Error(err))
				}
			}()
		}
	}

	var snap Snapshot
	err = p.step(ctx, StepCatalog, func(ctx context.Context) error {
		var err error
		snap, err = ReadCatalog(ctx, p.catalog)
		return err
	})
	if err != nil {
		return nil, newError(StepCatalog, req.AssessmentID, err)
	}

	log.Debug("catalog snapshot taken", zap.Int("careers", snap.Len()))

	var prompt string
	err = p.step(ctx, StepPrompt, func(context.Context) error {
		prompt = BuildPrompt(req.Answers, snap)
		return nil
	})
	if err != nil {
		return nil, newError(StepPrompt, req.AssessmentID, err)
	}

	log.Debug("scoring request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, p.maxLogLen)),
	)

	var raw string
	err = p.step(ctx, StepScoring, func(ctx context.Context) error {
		var err error
		raw, err = p.generator.Complete(ctx, ai.Request{
			System: SystemInstruction,
			Prompt: prompt,
			JSON:   true,
		})
		return err
	})
	if err != nil {
		return nil, newError(StepScoring, req.AssessmentID, err)
	}

	log.Debug("scoring response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, p.maxLogLen)),
	)

	var matches []Match
	err = p.step(ctx, StepParse, func(context.Context) error {
		var err error
		matches, err = ParseMatches(raw, snap)
		return err
	})
	if err != nil {
		log.Warn("scoring response rejected",
			zap.Error(err),
			zap.String("response_preview", logger.TruncateForLog(raw, p.maxLogLen)),
		)
		return nil, newError(StepParse, req.AssessmentID, err)
	}

	var stored int
	err = p.step(ctx, StepPersist, func(ctx context.Context) error {
		var err error
		stored, err = p.persister.Persist(ctx, req.AssessmentID, matches, snap)
		return err
	})
	if err != nil {
		runErr := newError(StepPersist, req.AssessmentID, err)
		runErr.Written = stored
		return nil, runErr
	}

	log.Info("matching completed", zap.Int("matches", stored))

	return &Result{Matches: stored, Tuples: matches}, nil
}

// Ready reports whether the scoring client can serve runs.
func (p *Pipeline) Ready() error {
	return ai.Ready(p.generator)
}

func (p *Pipeline) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "matching."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.observeStep(name, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}

	return err
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.AssessmentID) == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidRequest)
	}

	for i, a := range req.Answers {
		if strings.TrimSpace(a.AnswerText) == "" {
			return fmt.Errorf("%w: answer %d is empty", ErrInvalidRequest, i)
		}
	}

	return nil
}
