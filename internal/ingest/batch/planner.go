// Package batch splits a measurement query into sub-queries that each stay
// within the bulk API's per-request sample budget.
//
// The budget is counted in device-hours: a request for n devices over h
// hours returns at most n*h samples at hourly resolution. Splitting is by
// time only; every sub-query carries the full device set.
package batch

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/meterflow-core/internal/measurement"
)

// MaxLimit is the largest accepted budget. A one-device batch spans at most
// MaxLimit hours, which keeps every span well inside time.Duration.
const MaxLimit = 1_000_000

var (
	// ErrInvalidLimit is returned for a budget outside [1, MaxLimit].
	ErrInvalidLimit = errors.New("batch: samples per batch limit out of range")

	// ErrBudgetTooSmall is returned when even a one-hour batch exceeds the
	// budget because the device set is larger than the limit.
	ErrBudgetTooSmall = errors.New("batch: device set exceeds samples per batch limit")
)

// Span returns the time span of one batch for the given device count.
func Span(devices, limit int) (time.Duration, error) {
	if devices == 0 {
		return 0, measurement.ErrNoDevices
	}
	if limit < 1 || limit > MaxLimit {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if devices > limit {
		return 0, fmt.Errorf("%w: %d devices, limit %d", ErrBudgetTooSmall, devices, limit)
	}
	return time.Duration(limit/devices) * time.Hour, nil
}

// Count returns how many batches Plan would produce for q.
func Count(q measurement.Query, limit int) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	span, err := Span(len(q.DeviceIDs), limit)
	if err != nil {
		return 0, err
	}
	d := q.Duration()
	n := int(d / span)
	if d%span != 0 {
		n++
	}
	return n, nil
}

// Plan splits q into contiguous, non-overlapping sub-queries covering
// [q.From, q.To) exactly. The final batch is truncated at q.To.
func Plan(q measurement.Query, limit int) ([]measurement.Query, error) {
	n, err := Count(q, limit)
	if err != nil {
		return nil, err
	}
	span, _ := Span(len(q.DeviceIDs), limit) //nolint:errcheck // validated by Count

	batches := make([]measurement.Query, 0, n)
	for start := q.From; start.Before(q.To); start = start.Add(span) {
		end := start.Add(span)
		if end.After(q.To) {
			end = q.To
		}
		sub := q
		sub.From = start
		sub.To = end
		sub.DeviceIDs = append([]string(nil), q.DeviceIDs...)
		batches = append(batches, sub)
	}
	return batches, nil
}
