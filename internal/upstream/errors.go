package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when an endpoint keeps answering 429 after
	// every retry.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrRecentlyFailed is returned without calling when the exact request
	// failed recently and its negative cache entry is still live.
	ErrRecentlyFailed = errors.New("recently failed, skipped")
	// ErrMalformedResponse marks a 2xx body that is not valid JSON.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrSchedulerClosed is returned for work submitted to or queued in a
	// closed scheduler.
	ErrSchedulerClosed = errors.New("request scheduler closed")
	// ErrUserNotFound is returned when user details carry no user id.
	ErrUserNotFound = errors.New("upstream user not found")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned %d for %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("upstream returned %d for %s", e.StatusCode, e.URL)
}

// Unwrap lets errors.Is(err, ErrRateLimited) match exhausted 429s.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == 429 {
		return ErrRateLimited
	}
	return nil
}
