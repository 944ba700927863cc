package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Provider is the capability interface implemented once per search
// backend. Implementations translate a provider-specific call into the
// unified Response shape and classify their failures as ProviderError.
type Provider interface {
	// Name returns the provider identifier used in policy ordering and logs.
	Name() string

	// Search executes a query against the backend.
	Search(ctx context.Context, logger *logrus.Logger, query string, opts Options) (*Response, error)
}

// ErrorKind classifies provider failures so the registry can decide
// whether to retry or surface them.
type ErrorKind string

const (
	ErrAuth        ErrorKind = "auth"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrForbidden   ErrorKind = "forbidden"
	ErrNetwork     ErrorKind = "network"
	ErrMalformed   ErrorKind = "malformed"
)

// ProviderError is a classified per-adapter failure. Adapters return it
// for HTTP-level errors; plain transport errors are wrapped as ErrNetwork
// by the registry.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to an error classification.
func ClassifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return ErrAuth
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return ErrNetwork
	}
}

// StatusError builds a classified error for a non-OK HTTP response.
func StatusError(provider string, status int, detail string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     ClassifyStatus(status),
		Err:      fmt.Errorf("HTTP %d: %s", status, detail),
	}
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}
