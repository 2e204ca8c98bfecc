package influxdb

import "errors"

var (
	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps a failed initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrInvalidConfig is returned for a missing url, org or bucket.
	ErrInvalidConfig = errors.New("influxdb: invalid configuration")

	// ErrWriteFailed wraps a rejected chunk of points.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
