package rangehttp

import (
	"errors"
	"fmt"
)

// Transient causes. Any of these sends the orchestrator into backoff.
var (
	ErrConnect         = errors.New("connection failed")
	ErrEmptyResponse   = errors.New("no/empty response")
	ErrStalled         = errors.New("response stalled")
	ErrMalformedStatus = errors.New("malformed status line")
	ErrNoBody          = errors.New("connection closed before end of headers")
)

var ErrRetriesExhausted = errors.New("giving up after max retries")

// StatusError reports a chunk that completed with a status other than 206
// or 416, which ends the download.
type StatusError struct {
	Status int
	Start  int64
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for range starting at %d", e.Status, e.Start)
}
