package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound         = errors.New("not found")
	ErrMalformedItem    = errors.New("malformed item: name and numeric price are required")
	ErrRunInProgress    = errors.New("a run is already in progress")
	ErrQueueUnavailable = errors.New("queue backend is unavailable")
	ErrUnknownQueue     = errors.New("unknown queue")
	ErrLeaseLost        = errors.New("job lease lost to another attempt")
	ErrInvalidPayload   = errors.New("invalid job payload")
	ErrUserInactive     = errors.New("user is inactive")
	ErrScrapingDisabled = errors.New("scraping is disabled")
)
