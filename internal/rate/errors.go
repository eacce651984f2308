package rate

import "errors"

var (
	// ErrRateLimited reports that the counter for a key exceeded its budget
	// within the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable reports that the backing Redis instance could not be
	// reached. Callers map this to their store-unavailable taxonomy.
	ErrUnavailable = errors.New("rate limiter backend unavailable")
)
