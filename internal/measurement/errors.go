package measurement

import "errors"

var (
	// ErrInvalidType is returned for measurement type codes or names outside
	// the supported set.
	ErrInvalidType = errors.New("measurement: invalid type")

	// ErrNoDevices is returned when a query names no devices.
	ErrNoDevices = errors.New("measurement: empty device set")

	// ErrEmptyDeviceID is returned when a query contains a blank device ID.
	ErrEmptyDeviceID = errors.New("measurement: empty device id")

	// ErrInvalidRange is returned when From is not before To.
	ErrInvalidRange = errors.New("measurement: from must be before to")

	// ErrInvalidResolution is returned for resolutions below one hour.
	ErrInvalidResolution = errors.New("measurement: resolution must be at least 1 hour")
)
