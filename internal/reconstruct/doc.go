// Package reconstruct turns irregular per-device readings into a uniform,
// gap-free hourly series.
//
// For each device and channel the chain is:
//
//	RejectOutliers -> Resample -> Pad
//
// and the load and production channels are then joined by Merge into
// silver records, one per hour of the requested window.
//
// Resampling interpolates linearly between known hours and never
// extrapolates; hours outside the observed span are zero-filled by Pad.
// Zero is the absence-of-data policy: downstream aggregation treats a
// missing hour as no energy, not as unknown.
package reconstruct
