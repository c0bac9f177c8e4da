package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spigell/career-matcher/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPersister(s MatchStore) *Persister {
	p := NewPersister(s)
	n := 0
	p.newID = func() string {
		n++
		return "m" + string(rune('0'+n))
	}
	p.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestPersistWritesBatchThenCompletes(t *testing.T) {
	st := &stubStore{}
	p := newTestPersister(st)

	n, err := p.Persist(context.Background(), "a1", []Match{
		{CareerIndex: 2, Score: 91.6, Reasoning: "builder"},
		{CareerIndex: 0, Score: 70.5, Reasoning: "numbers"},
	}, NewSnapshot(testCareers()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, st.inserted, 1, "expected a single batch")
	assert.Equal(t, []store.CareerMatch{
		{ID: "m1", AssessmentID: "a1", CareerID: "c2", Score: 92, Reasoning: "builder"},
		{ID: "m2", AssessmentID: "a1", CareerID: "c0", Score: 71, Reasoning: "numbers"},
	}, st.inserted[0])

	assert.Equal(t, []string{"a1"}, st.completed)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), st.completedAt[0])
}

func TestPersistZeroMatchesStillCompletes(t *testing.T) {
	st := &stubStore{}

	n, err := newTestPersister(st).Persist(context.Background(), "a1", nil, NewSnapshot(testCareers()))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.inserted)
	assert.Equal(t, []string{"a1"}, st.completed)
}

func TestPersistInsertFailureLeavesFlag(t *testing.T) {
	st := &stubStore{insertErr: errors.New("foreign key violation")}

	n, err := newTestPersister(st).Persist(context.Background(), "a1", []Match{{CareerIndex: 1, Score: 80}}, NewSnapshot(testCareers()))
	assert.ErrorIs(t, err, ErrPersistFailure)
	assert.Equal(t, KindPersistFailure, KindOf(err))
	assert.Zero(t, n)
	assert.Zero(t, st.completeCalls)
}

func TestPersistCompletionFailureIsPartial(t *testing.T) {
	st := &stubStore{completeErr: errors.New("connection reset")}

	n, err := newTestPersister(st).Persist(context.Background(), "a1", []Match{
		{CareerIndex: 0, Score: 80},
		{CareerIndex: 1, Score: 65},
	}, NewSnapshot(testCareers()))

	assert.ErrorIs(t, err, ErrPartialPersistFailure)
	assert.Equal(t, KindPartialPersistFailure, KindOf(err))
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, st.insertedRows())
}

func TestPersistRejectsIndexOutsideSnapshot(t *testing.T) {
	st := &stubStore{}

	_, err := newTestPersister(st).Persist(context.Background(), "a1", []Match{{CareerIndex: 5}}, NewSnapshot(testCareers()))
	assert.ErrorIs(t, err, ErrPersistFailure)
	assert.Empty(t, st.inserted)
	assert.Zero(t, st.completeCalls)
}

func TestCompleteOnlyUpdatesFlag(t *testing.T) {
	st := &stubStore{}

	require.NoError(t, newTestPersister(st).Complete(context.Background(), "a1"))
	assert.Empty(t, st.inserted)
	assert.Equal(t, []string{"a1"}, st.completed)

	st.completeErr = store.ErrNotFound
	err := newTestPersister(st).Complete(context.Background(), "a2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompleteRetryKeepsStoredMatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, zap.NewNop())
	p := newTestPersister(st)
	ctx := context.Background()

	matchCols := []string{
		"id", "assessment_id", "career_id", "match_score", "reasoning", "created_at",
		"c_id", "title", "description", "required_skills",
		"education_level", "salary_range", "growth_outlook", "work_environment",
	}
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	storedRows := func() *sqlmock.Rows {
		return sqlmock.NewRows(matchCols).
			AddRow("m1", "a1", "c1", 88, "caring", created, "c1", "Registered Nurse", "Cares for patients", "{}", "", "", "", "").
			AddRow("m2", "a1", "c2", 64, "logic", created, "c2", "Software Engineer", "Builds software systems", "{}", "", "", "", "")
	}

	mock.ExpectExec(`INSERT INTO career_matches`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE assessments`).WithArgs("a1", sqlmock.AnyArg()).WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(`FROM career_matches`).WithArgs("a1").WillReturnRows(storedRows())
	mock.ExpectExec(`UPDATE assessments`).WithArgs("a1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM career_matches`).WithArgs("a1").WillReturnRows(storedRows())

	written, err := p.Persist(ctx, "a1", []Match{
		{CareerIndex: 1, Score: 88, Reasoning: "caring"},
		{CareerIndex: 2, Score: 64, Reasoning: "logic"},
	}, NewSnapshot(testCareers()))
	assert.ErrorIs(t, err, ErrPartialPersistFailure)
	assert.Equal(t, 2, written)

	before, err := st.ListMatches(ctx, "a1")
	require.NoError(t, err)

	require.NoError(t, p.Complete(ctx, "a1"))

	after, err := st.ListMatches(ctx, "a1")
	require.NoError(t, err)

	assert.Len(t, before, written)
	assert.Len(t, after, len(before))
	// A second INSERT would fail the expectations below.
	assert.NoError(t, mock.ExpectationsWereMet())
}
