package server

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultUserHeader carries the caller id set by the authenticating gateway.
const DefaultUserHeader = "X-User-ID"

// ErrUnauthenticated is returned when the caller cannot be identified.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the calling user id of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// GatewayAuthenticator trusts an upstream gateway that has already verified
// the bearer token and forwards the user id in a header.
type GatewayAuthenticator struct {
	UserHeader string
}

func (a GatewayAuthenticator) Authenticate(r *http.Request) (string, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrUnauthenticated
	}

	header := a.UserHeader
	if header == "" {
		header = DefaultUserHeader
	}

	userID := strings.TrimSpace(r.Header.Get(header))
	if userID == "" {
		return "", ErrUnauthenticated
	}

	return userID, nil
}
