package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Scoring failures. Providers wrap one of these so callers can classify
// errors without knowing which backend produced them.
var (
	ErrMisconfigured   = errors.New("scoring client is not configured")
	ErrRateLimited     = errors.New("scoring service rate limit exceeded")
	ErrPaymentRequired = errors.New("scoring service requires payment")
	ErrUpstream        = errors.New("scoring service request failed")
)

// Request is a single completion call.
type Request struct {
	// System is the role instruction sent ahead of the prompt.
	System string
	Prompt string
	// JSON asks the provider to constrain output to JSON.
	JSON bool
}

// Generator sends one prompt to a text-generation service and returns its raw text.
type Generator interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
	Model() string
}

// Checker is implemented by generators that know before any call whether
// they can serve it.
type Checker interface {
	Ready() error
}

// Ready reports whether g can serve calls without contacting the provider.
// Generators that do not implement Checker are assumed ready.
func Ready(g Generator) error {
	if c, ok := g.(Checker); ok {
		return c.Ready()
	}
	return nil
}

// StatusError maps a non-success upstream HTTP status to a scoring failure.
func StatusError(code int, status string) error {
	switch code {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, status)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrPaymentRequired, status)
	default:
		return fmt.Errorf("%w: unexpected status %s", ErrUpstream, status)
	}
}

// Unconfigured is a Generator that fails every call with ErrMisconfigured.
// It stands in when credentials are missing so the service can start and
// report the problem per request.
type Unconfigured struct {
	ProviderName string
	Reason       error
}

func (u Unconfigured) Complete(context.Context, Request) (string, error) {
	return "", u.Ready()
}

// Ready always fails with ErrMisconfigured.
func (u Unconfigured) Ready() error {
	if u.Reason != nil {
		return fmt.Errorf("%w: %v", ErrMisconfigured, u.Reason)
	}
	return ErrMisconfigured
}

func (u Unconfigured) Provider() string {
	return u.ProviderName
}

func (u Unconfigured) Model() string {
	return ""
}
