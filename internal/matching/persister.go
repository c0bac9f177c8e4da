package matching

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/career-matcher/internal/store"
)

// MatchStore persists a run's results.
type MatchStore interface {
	InsertMatches(ctx context.Context, matches []store.CareerMatch) error
	CompleteAssessment(ctx context.Context, assessmentID string, completedAt time.Time) error
}

// Persister writes one batch of matches and then completes the assessment.
type Persister struct {
	store MatchStore
	now   func() time.Time
	newID func() string
}

func NewPersister(s MatchStore) *Persister {
	return &Persister{
		store: s,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Persist stores matches as one batch and sets the completion flag.
// It returns the number of stored rows. When the batch is stored but the flag
// update fails, the error wraps ErrPartialPersistFailure.
func (p *Persister) Persist(ctx context.Context, assessmentID string, matches []Match, snap Snapshot) (int, error) {
	rows := make([]store.CareerMatch, 0, len(matches))
	for _, m := range matches {
		career, ok := snap.At(m.CareerIndex)
		if !ok {
			return 0, fmt.Errorf("%w: careerIndex %d is not in the catalog snapshot", ErrPersistFailure, m.CareerIndex)
		}

		rows = append(rows, store.CareerMatch{
			ID:           p.newID(),
			AssessmentID: assessmentID,
			CareerID:     career.ID,
			Score:        int(math.Round(m.Score)),
			Reasoning:    m.Reasoning,
		})
	}

	if len(rows) > 0 {
		if err := p.store.InsertMatches(ctx, rows); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrPersistFailure, err)
		}
	}

	if err := p.store.CompleteAssessment(ctx, assessmentID, p.now().UTC()); err != nil {
		return len(rows), fmt.Errorf("%w: %d matches stored: %w", ErrPartialPersistFailure, len(rows), err)
	}

	return len(rows), nil
}

// Complete sets only the completion flag. It is the retry path after a
// partial persist failure.
func (p *Persister) Complete(ctx context.Context, assessmentID string) error {
	if err := p.store.CompleteAssessment(ctx, assessmentID, p.now().UTC()); err != nil {
		return fmt.Errorf("complete assessment: %w", err)
	}
	return nil
}
