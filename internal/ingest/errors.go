package ingest

import "errors"

var (
	// ErrIncomplete is returned by RunOnce when at least one group still
	// has failed batches at the end of the pass.
	ErrIncomplete = errors.New("ingest: groups left unprocessed")

	// ErrPlanning is returned when a group cannot be split into batches
	// under the configured limit. Retrying does not help.
	ErrPlanning = errors.New("ingest: group cannot be planned")

	// ErrInvalidConfig is returned when the ingestion settings are unusable.
	ErrInvalidConfig = errors.New("ingest: invalid configuration")
)
