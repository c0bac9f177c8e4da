package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spigell/career-matcher/internal/ai"
	"github.com/spigell/career-matcher/internal/runlock"
	"github.com/spigell/career-matcher/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	catalog   *stubCatalog
	generator *stubGenerator
	store     *stubStore
	metrics   *Metrics
	spans     *tracetest.SpanRecorder
	logs      *observer.ObservedLogs
	pipeline  *Pipeline
}

func newFixture(t *testing.T, response string, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		catalog:   &stubCatalog{careers: testCareers()},
		generator: &stubGenerator{response: response},
		store:     &stubStore{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
		spans:     tracetest.NewSpanRecorder(),
	}

	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	opts = append([]Option{WithMetrics(f.metrics), WithTracer(tp.Tracer("test")), WithMaxLogLength(40)}, opts...)

	p, err := NewPipeline(f.catalog, f.generator, newTestPersister(f.store), zap.New(core), opts...)
	require.NoError(t, err)
	f.pipeline = p

	return f
}

func request() Request {
	return Request{
		AssessmentID: "a1",
		Answers: []Answer{
			{QuestionID: "q1", AnswerText: "I like building things"},
			{QuestionID: "q2", AnswerText: "Numbers are fun"},
		},
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t, `[{"careerIndex":2,"score":92,"reasoning":"builder"},{"careerIndex":0,"score":71,"reasoning":"numbers"}]`)

	result, err := f.pipeline.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Matches)
	assert.Len(t, result.Tuples, 2)

	require.Len(t, f.store.inserted, 1)
	assert.Equal(t, "c2", f.store.inserted[0][0].CareerID)
	assert.Equal(t, "c0", f.store.inserted[0][1].CareerID)
	assert.Equal(t, []string{"a1"}, f.store.completed)

	assert.Equal(t, SystemInstruction, f.generator.last.System)
	assert.True(t, f.generator.last.JSON)
	assert.Contains(t, f.generator.last.Prompt, "I like building things; Numbers are fun")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MatchesStored))

	var names []string
	for _, s := range f.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{
		"matching.catalog", "matching.prompt", "matching.scoring", "matching.parse", "matching.persist", "matching.run",
	}, names)

	completed := f.logs.FilterMessage("matching completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, "a1", completed[0].ContextMap()["assessment_id"])
	assert.Equal(t, "stub", completed[0].ContextMap()["ai_provider"])
}

func TestRunStoresSingleMatch(t *testing.T) {
	f := newFixture(t, "```json\n"+`[{"careerIndex":0,"score":82,"reasoning":"Strong analytical fit"}]`+"\n```")
	f.catalog.careers = []store.Career{
		{ID: "career-analyst", Title: "Data Analyst", Description: "Analyzes data"},
		{ID: "career-nurse", Title: "Nurse", Description: "Cares for patients"},
	}

	result, err := f.pipeline.Run(context.Background(), Request{
		AssessmentID: "a1",
		Answers: []Answer{
			{QuestionID: "q1", AnswerText: "I enjoy solving math puzzles"},
			{QuestionID: "q2", AnswerText: "I like helping people"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matches)

	assert.Contains(t, f.generator.last.Prompt, "I enjoy solving math puzzles; I like helping people")
	assert.Contains(t, f.generator.last.Prompt, "0. Data Analyst")

	require.Len(t, f.store.inserted, 1)
	assert.Equal(t, []store.CareerMatch{{
		ID:           "m1",
		AssessmentID: "a1",
		CareerID:     "career-analyst",
		Score:        82,
		Reasoning:    "Strong analytical fit",
	}}, f.store.inserted[0])
	assert.Equal(t, []string{"a1"}, f.store.completed)
}

func TestRunRateLimited(t *testing.T) {
	f := newFixture(t, "")
	f.generator.err = fmt.Errorf("%w: 429 Too Many Requests", ai.ErrRateLimited)

	result, err := f.pipeline.Run(context.Background(), request())
	assert.Nil(t, result)

	var runErr *Error
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, KindRateLimited, runErr.Kind)
	assert.Equal(t, StepScoring, runErr.Step)
	assert.Equal(t, "a1", runErr.AssessmentID)

	assert.Empty(t, f.store.inserted)
	assert.Zero(t, f.store.completeCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues(string(KindRateLimited))))
}

func TestRunScoringFailureKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{err: ai.ErrPaymentRequired, kind: KindPaymentRequired},
		{err: ai.ErrUpstream, kind: KindUpstreamError},
		{err: ai.ErrMisconfigured, kind: KindMisconfiguredClient},
	}

	for _, tt := range tests {
		f := newFixture(t, "")
		f.generator.err = tt.err

		_, err := f.pipeline.Run(context.Background(), request())
		assert.Equal(t, tt.kind, KindOf(err))
		assert.Empty(t, f.store.inserted)
		assert.Zero(t, f.store.completeCalls)
	}
}

func TestRunWithUnconfiguredGenerator(t *testing.T) {
	st := &stubStore{}
	p, err := NewPipeline(&stubCatalog{careers: testCareers()}, ai.Unconfigured{ProviderName: "openai"}, NewPersister(st), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), request())
	assert.Equal(t, KindMisconfiguredClient, KindOf(err))
	assert.Zero(t, st.completeCalls)
}

func TestRunUnconfiguredGeneratorSkipsCatalog(t *testing.T) {
	catalog := &stubCatalog{err: errors.New("connection refused")}
	st := &stubStore{}
	p, err := NewPipeline(catalog, ai.Unconfigured{ProviderName: "openai"}, NewPersister(st), zap.NewNop())
	require.NoError(t, err)

	assert.ErrorIs(t, p.Ready(), ai.ErrMisconfigured)

	_, err = p.Run(context.Background(), request())

	var runErr *Error
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, KindMisconfiguredClient, runErr.Kind)
	assert.Equal(t, StepScoring, runErr.Step)
	assert.Zero(t, catalog.calls)
	assert.Empty(t, st.inserted)
}

func TestRunMalformedResponse(t *testing.T) {
	f := newFixture(t, "Sorry, I cannot help with that request because it is long enough to be truncated.")

	_, err := f.pipeline.Run(context.Background(), request())
	assert.Equal(t, KindMalformedResponse, KindOf(err))
	assert.Empty(t, f.store.inserted)
	assert.Zero(t, f.store.completeCalls)

	rejected := f.logs.FilterMessage("scoring response rejected").All()
	require.Len(t, rejected, 1)
	preview, _ := rejected[0].ContextMap()["response_preview"].(string)
	assert.LessOrEqual(t, len([]rune(preview)), 43)
}

func TestRunOutOfRangeIndexRejectsBatch(t *testing.T) {
	f := newFixture(t, `[{"careerIndex":0,"score":90,"reasoning":"ok"},{"careerIndex":3,"score":80,"reasoning":"bad"}]`)

	_, err := f.pipeline.Run(context.Background(), request())
	assert.Equal(t, KindMalformedResponse, KindOf(err))
	assert.Empty(t, f.store.inserted)
}

func TestRunPartialPersistFailure(t *testing.T) {
	f := newFixture(t, `[{"careerIndex":1,"score":88,"reasoning":"caring"},{"careerIndex":2,"score":64,"reasoning":"logic"}]`)
	f.store.completeErr = errors.New("connection reset")

	_, err := f.pipeline.Run(context.Background(), request())

	var runErr *Error
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, KindPartialPersistFailure, runErr.Kind)
	assert.Equal(t, StepPersist, runErr.Step)
	assert.Equal(t, 2, runErr.Written)
	assert.Equal(t, 2, f.store.insertedRows())
	assert.Empty(t, f.store.completed)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MatchesStored))
}

func TestRunCatalogUnavailable(t *testing.T) {
	f := newFixture(t, "[]")
	f.catalog.err = errors.New("connection refused")

	_, err := f.pipeline.Run(context.Background(), request())
	assert.Equal(t, KindCatalogUnavailable, KindOf(err))
	assert.Zero(t, f.generator.calls)
}

func TestRunEmptyCatalogAndNoMatches(t *testing.T) {
	f := newFixture(t, `{"matches": []}`)
	f.catalog.careers = nil

	result, err := f.pipeline.Run(context.Background(), Request{AssessmentID: "a1"})
	require.NoError(t, err)
	assert.Zero(t, result.Matches)
	assert.Equal(t, []string{"a1"}, f.store.completed)
}

func TestRunInvalidRequest(t *testing.T) {
	f := newFixture(t, "[]")

	_, err := f.pipeline.Run(context.Background(), Request{})
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	_, err = f.pipeline.Run(context.Background(), Request{AssessmentID: "a1", Answers: []Answer{{AnswerText: "  "}}})
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	assert.Zero(t, f.catalog.calls)
}

func TestRunSnapshotIsReadOncePerRun(t *testing.T) {
	f := newFixture(t, "[]")

	for i := 0; i < 3; i++ {
		_, err := f.pipeline.Run(context.Background(), request())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.catalog.calls)
}

func TestRunWithLocker(t *testing.T) {
	locker := &stubLocker{}
	f := newFixture(t, "[]", WithLocker(locker))

	_, err := f.pipeline.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestRunLockHeld(t *testing.T) {
	locker := &stubLocker{err: fmt.Errorf("%w: assessment a1", runlock.ErrLocked)}
	f := newFixture(t, "[]", WithLocker(locker))

	_, err := f.pipeline.Run(context.Background(), request())
	assert.Equal(t, KindRunInProgress, KindOf(err))
	assert.Zero(t, f.catalog.calls)
}

func TestRunLockBackendDownDoesNotBlock(t *testing.T) {
	locker := &stubLocker{err: errors.New("dial tcp: connection refused")}
	f := newFixture(t, "[]", WithLocker(locker))

	_, err := f.pipeline.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Len(t, f.logs.FilterMessage("run lock unavailable, continuing without it").All(), 1)
}

func TestNewPipelineValidatesCollaborators(t *testing.T) {
	st := &stubStore{}

	_, err := NewPipeline(&stubCatalog{}, nil, NewPersister(st), nil)
	assert.ErrorIs(t, err, ai.ErrMisconfigured)

	_, err = NewPipeline(nil, &stubGenerator{}, NewPersister(st), nil)
	assert.Error(t, err)

	_, err = NewPipeline(&stubCatalog{}, &stubGenerator{}, nil, nil)
	assert.Error(t, err)
}
