package matching

import (
	"context"
	"fmt"

	"github.com/spigell/career-matcher/internal/store"
)

// CatalogReader lists every career available for matching.
type CatalogReader interface {
	ListCareers(ctx context.Context) ([]store.Career, error)
}

// Snapshot is the career catalog as read once at the start of a run.
// Career indices in prompts and model output refer to positions in it,
// so the same Snapshot value must flow through every later step.
type Snapshot struct {
	careers []store.Career
}

// NewSnapshot copies careers so later changes to the slice do not leak in.
func NewSnapshot(careers []store.Career) Snapshot {
	frozen := make([]store.Career, len(careers))
	copy(frozen, careers)
	for i := range frozen {
		if frozen[i].RequiredSkills != nil {
			frozen[i].RequiredSkills = append([]string(nil), frozen[i].RequiredSkills...)
		}
	}
	return Snapshot{careers: frozen}
}

func (s Snapshot) Len() int {
	return len(s.careers)
}

// At returns the career at index i and whether the index is in range.
func (s Snapshot) At(i int) (store.Career, bool) {
	if i < 0 || i >= len(s.careers) {
		return store.Career{}, false
	}
	return s.careers[i], true
}

// Careers returns a copy of the catalog in snapshot order.
func (s Snapshot) Careers() []store.Career {
	out := make([]store.Career, len(s.careers))
	copy(out, s.careers)
	return out
}

// ReadCatalog takes a snapshot of the catalog.
func ReadCatalog(ctx context.Context, reader CatalogReader) (Snapshot, error) {
	careers, err := reader.ListCareers(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	return NewSnapshot(careers), nil
}
