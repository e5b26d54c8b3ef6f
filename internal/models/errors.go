package models

import (
	"errors"
	"fmt"
	"strings"
)

// Failure classes of a model call. HandleError wraps provider errors with
// one of them.
var (
	ErrAuth           = errors.New("authentication failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrContextTooLong = errors.New("context too long")
	ErrModelNotFound  = errors.New("model not found")
	ErrConnection     = errors.New("connection error")
)

// ErrModelUnavailable reports a backend that answered with something other
// than a model response (proxy error page, connection failure).
type ErrModelUnavailable struct {
	Provider string
	Status   int
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("model %s unavailable: %v", e.Provider, e.Cause)
	case e.Status != 0:
		return fmt.Sprintf("model %s unavailable (HTTP %d): %s", e.Provider, e.Status, e.Body)
	case e.Body != "":
		return fmt.Sprintf("model %s unavailable: %s", e.Provider, e.Body)
	default:
		return fmt.Sprintf("model %s unavailable", e.Provider)
	}
}

func (e *ErrModelUnavailable) Unwrap() error {
	return e.Cause
}

var classes = []struct {
	class   error
	markers []string
}{
	{ErrAuth, []string{"401", "403", "unauthorized", "invalid api key", "api key", "forbidden"}},
	{ErrRateLimited, []string{"429", "rate limit", "quota", "too many requests", "overloaded"}},
	{ErrContextTooLong, []string{"context length", "context window", "too many tokens", "max tokens", "token limit"}},
	{ErrModelNotFound, []string{"model not found", "404", "not found"}},
	{ErrConnection, []string{"connection", "eof", "timeout", "dial", "refused"}},
}

// HandleError wraps a provider error with its failure class. SDKs only
// expose these through their messages, so the match is on text.
func HandleError(err error) error {
	if err == nil || Kind(err) != "" {
		return err
	}
	var unavailable *ErrModelUnavailable
	if errors.As(err, &unavailable) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	msg := strings.ToLower(err.Error())
	for _, c := range classes {
		if containsAny(msg, c.markers...) {
			return fmt.Errorf("%w: %w", c.class, err)
		}
	}
	return err
}

// Kind names the failure class of err, or "" when it has none.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "model_auth"
	case errors.Is(err, ErrRateLimited):
		return "model_rate_limited"
	case errors.Is(err, ErrContextTooLong):
		return "model_context_too_long"
	case errors.Is(err, ErrModelNotFound):
		return "model_not_found"
	case errors.Is(err, ErrConnection):
		return "model_unavailable"
	default:
		return ""
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
