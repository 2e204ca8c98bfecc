package registry

import "errors"

// Domain errors for the registry package.
var (
	// ErrGroupNotFound is returned for a group ID that is not registered.
	ErrGroupNotFound = errors.New("registry: group not found")

	// ErrAlreadyProcessed is returned when opening a processed group for writing.
	ErrAlreadyProcessed = errors.New("registry: group already processed")

	// ErrNotProcessed is returned when a stage needs a group whose raw
	// batches are not all on disk yet.
	ErrNotProcessed = errors.New("registry: group not processed")

	// ErrNoAssociations is returned when the association source is empty.
	ErrNoAssociations = errors.New("registry: no topology associations")

	// ErrInvalidGroupID is returned for group IDs that cannot name a directory.
	ErrInvalidGroupID = errors.New("registry: invalid group id")
)
