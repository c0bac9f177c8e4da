package matching

import (
	"errors"
	"fmt"

	"github.com/spigell/career-matcher/internal/ai"
	"github.com/spigell/career-matcher/internal/runlock"
)

// Kind classifies why a matching run failed.
type Kind string

const (
	KindUnknown               Kind = "Unknown"
	KindInvalidRequest        Kind = "InvalidRequest"
	KindMisconfiguredClient   Kind = "MisconfiguredClient"
	KindCatalogUnavailable    Kind = "CatalogUnavailable"
	KindRateLimited           Kind = "RateLimited"
	KindPaymentRequired       Kind = "PaymentRequired"
	KindUpstreamError         Kind = "UpstreamError"
	KindMalformedResponse     Kind = "MalformedResponse"
	KindPersistFailure        Kind = "PersistFailure"
	KindPartialPersistFailure Kind = "PartialPersistFailure"
	KindRunInProgress         Kind = "RunInProgress"
)

var (
	ErrInvalidRequest        = errors.New("invalid matching request")
	ErrCatalogUnavailable    = errors.New("career catalog unavailable")
	ErrMalformedResponse     = errors.New("malformed scoring response")
	ErrPersistFailure        = errors.New("storing career matches failed")
	ErrPartialPersistFailure = errors.New("career matches stored but assessment not completed")
)

// Error is returned by Pipeline.Run.
type Error struct {
	Kind         Kind
	Step         string
	AssessmentID string
	// Written is the number of match rows stored before the failure.
	Written int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("matching %s failed at %s: %v", e.AssessmentID, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(step, assessmentID string, err error) *Error {
	return &Error{
		Kind:         KindOf(err),
		Step:         step,
		AssessmentID: assessmentID,
		Err:          err,
	}
}

// KindOf classifies any error produced by the pipeline or its collaborators.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var matchErr *Error
	if errors.As(err, &matchErr) && matchErr.Kind != "" {
		return matchErr.Kind
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ai.ErrMisconfigured):
		return KindMisconfiguredClient
	case errors.Is(err, ErrCatalogUnavailable):
		return KindCatalogUnavailable
	case errors.Is(err, ai.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ai.ErrPaymentRequired):
		return KindPaymentRequired
	case errors.Is(err, ai.ErrUpstream):
		return KindUpstreamError
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrPartialPersistFailure):
		return KindPartialPersistFailure
	case errors.Is(err, ErrPersistFailure):
		return KindPersistFailure
	case errors.Is(err, runlock.ErrLocked):
		return KindRunInProgress
	default:
		return KindUnknown
	}
}
