package stage

import "errors"

var (
	// ErrNoRows is returned when asked to write an empty batch.
	ErrNoRows = errors.New("stage: no rows to write")

	// ErrNoBronze is returned when a group has no bronze file.
	ErrNoBronze = errors.New("stage: no bronze file for group")

	// ErrNoSilver is returned when a group has no silver file.
	ErrNoSilver = errors.New("stage: no silver file for group")
)
