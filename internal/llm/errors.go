package llm

import (
	"fmt"
	"time"
)

// ErrRateLimit indicates the provider returned a rate limit error (429).
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrProviderUnavailable indicates the provider is down or unreachable.
type ErrProviderUnavailable struct {
	Provider Provider
	Err      error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider unavailable: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s provider unavailable", e.Provider)
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrRequestRejected indicates the provider refused the request itself
// (bad key, bad model, malformed input). Retrying does not help.
type ErrRequestRejected struct {
	Provider Provider
	Status   int
	Err      error
}

func (e *ErrRequestRejected) Error() string {
	return fmt.Sprintf("%s rejected request (status %d): %v", e.Provider, e.Status, e.Err)
}

func (e *ErrRequestRejected) Unwrap() error { return e.Err }

// ErrEmptyResponse indicates the provider answered without usable text.
type ErrEmptyResponse struct {
	Provider Provider
	Reason   string
}

func (e *ErrEmptyResponse) Error() string {
	return fmt.Sprintf("empty %s response: %s", e.Provider, e.Reason)
}
