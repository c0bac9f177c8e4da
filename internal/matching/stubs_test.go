package matching

import (
	"context"
	"sync"
	"time"

	"github.com/spigell/career-matcher/internal/ai"
	"github.com/spigell/career-matcher/internal/store"
)

type stubCatalog struct {
	careers []store.Career
	err     error
	calls   int
}

func (s *stubCatalog) ListCareers(context.Context) ([]store.Career, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.careers, nil
}

type stubGenerator struct {
	response string
	err      error
	last     ai.Request
	calls    int
}

func (s *stubGenerator) Complete(_ context.Context, req ai.Request) (string, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubGenerator) Provider() string { return "stub" }

func (s *stubGenerator) Model() string { return "stub-model" }

type stubStore struct {
	mu sync.Mutex

	insertErr   error
	completeErr error

	inserted      [][]store.CareerMatch
	completed     []string
	completedAt   []time.Time
	completeCalls int
}

func (s *stubStore) InsertMatches(_ context.Context, matches []store.CareerMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, matches)
	return nil
}

func (s *stubStore) CompleteAssessment(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls++
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed = append(s.completed, id)
	s.completedAt = append(s.completedAt, at)
	return nil
}

func (s *stubStore) insertedRows() int {
	n := 0
	for _, batch := range s.inserted {
		n += len(batch)
	}
	return n
}

type stubLocker struct {
	err      error
	acquired []string
	released int
}

func (s *stubLocker) Acquire(_ context.Context, id string) (func(context.Context) error, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired = append(s.acquired, id)
	return func(context.Context) error {
		s.released++
		return nil
	}, nil
}

func testCareers() []store.Career {
	return []store.Career{
		{ID: "c0", Title: "Data Analyst", Description: "Turns data into decisions"},
		{ID: "c1", Title: "Registered Nurse", Description: "Cares for patients"},
		{ID: "c2", Title: "Software Engineer", Description: "Builds software systems"},
	}
}
