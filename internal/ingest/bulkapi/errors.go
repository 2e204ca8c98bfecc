package bulkapi

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBatch is returned when a response holds no usable rows.
	ErrEmptyBatch = errors.New("bulkapi: batch returned no usable samples")

	// ErrMalformedResponse is returned when the body is not the expected JSON shape.
	ErrMalformedResponse = errors.New("bulkapi: malformed response")

	// ErrRetriesExhausted wraps the last transient failure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("bulkapi: retries exhausted")

	// ErrCircuitOpen is returned while the circuit breaker rejects requests.
	ErrCircuitOpen = errors.New("bulkapi: circuit open")
)

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bulkapi: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("bulkapi: unexpected status %d: %s", e.Code, e.Body)
}

// RowError describes one rejected record of a response. Index is the
// position in the device's series, or -1 when the whole device was rejected.
type RowError struct {
	DeviceID string
	Index    int
	Field    string
	Reason   string
}

func (e *RowError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("bulkapi: device %q rejected: %s %s", e.DeviceID, e.Field, e.Reason)
	}
	return fmt.Sprintf("bulkapi: device %q row %d rejected: %s %s", e.DeviceID, e.Index, e.Field, e.Reason)
}
