package reconstruct

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nerrad567/meterflow-core/internal/measurement"
)

// Step is the cadence of reconstructed series.
const Step = time.Hour

// outlierSigmas is the band, in standard deviations around the mean, that
// a reading must fall in to be kept.
const outlierSigmas = 2.0

// ErrDuplicateInterval is returned when a channel holds two values for the
// same interval, which would make the load/production join ambiguous.
var ErrDuplicateInterval = errors.New("reconstruct: duplicate interval")

// Point is one timestamped value.
type Point struct {
	Time  time.Time
	Value float64
}

// RejectOutliers drops points further than two sample standard deviations
// from the mean. Series with fewer than two points or zero spread are
// returned unchanged.
func RejectOutliers(points []Point) []Point {
	if len(points) < 2 {
		return points
	}

	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	mean := sum / float64(len(points))

	var sq float64
	for _, p := range points {
		d := p.Value - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(points)-1))
	if std == 0 || math.IsNaN(std) {
		return points
	}

	limit := outlierSigmas * std
	kept := make([]Point, 0, len(points))
	for _, p := range points {
		if math.Abs(p.Value-mean) <= limit {
			kept = append(kept, p)
		}
	}
	return kept
}

// Resample aligns points to the Step grid and fills every step between the
// first and last known step by linear interpolation. Two points in the same
// step are an ErrDuplicateInterval. The result is sorted and covers exactly
// [first, last].
func Resample(points []Point) ([]Point, error) {
	if len(points) == 0 {
		return nil, nil
	}

	buckets := make(map[int64]float64, len(points))
	for _, p := range points {
		k := p.Time.UTC().Truncate(Step).Unix()
		if _, dup := buckets[k]; dup {
			return nil, fmt.Errorf("%w at %s", ErrDuplicateInterval, time.Unix(k, 0).UTC().Format(time.RFC3339))
		}
		buckets[k] = p.Value
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	stepSec := int64(Step / time.Second)
	out := make([]Point, 0, (keys[len(keys)-1]-keys[0])/stepSec+1)
	for i, k := range keys {
		v := buckets[k]
		out = append(out, Point{Time: time.Unix(k, 0).UTC(), Value: v})
		if i == len(keys)-1 {
			break
		}

		next := keys[i+1]
		nv := buckets[next]
		span := float64(next - k)
		for t := k + stepSec; t < next; t += stepSec {
			frac := float64(t-k) / span
			out = append(out, Point{Time: time.Unix(t, 0).UTC(), Value: v + (nv-v)*frac})
		}
	}
	return out, nil
}

// Grid returns the Step-aligned interval starts in [w.From, w.To).
func Grid(w measurement.Window) []time.Time {
	start := w.From.UTC().Truncate(Step)
	if start.Before(w.From) {
		start = start.Add(Step)
	}
	var grid []time.Time
	for t := start; t.Before(w.To); t = t.Add(Step) {
		grid = append(grid, t)
	}
	return grid
}

// Pad reindexes a resampled series onto the full grid of w. Grid steps with
// no value are zero.
func Pad(points []Point, w measurement.Window) []Point {
	byTime := make(map[int64]float64, len(points))
	for _, p := range points {
		byTime[p.Time.Unix()] = p.Value
	}

	grid := Grid(w)
	out := make([]Point, len(grid))
	for i, t := range grid {
		out[i] = Point{Time: t, Value: byTime[t.Unix()]}
	}
	return out
}

// Merge joins the load and production series of one device on interval
// start. A channel missing at an interval contributes 0.
func Merge(groupID, deviceID string, load, prod []Point) ([]measurement.SilverRecord, error) {
	loadBy, err := index(load)
	if err != nil {
		return nil, fmt.Errorf("load channel of %s: %w", deviceID, err)
	}
	prodBy, err := index(prod)
	if err != nil {
		return nil, fmt.Errorf("production channel of %s: %w", deviceID, err)
	}

	keys := make([]int64, 0, len(loadBy)+len(prodBy))
	for k := range loadBy {
		keys = append(keys, k)
	}
	for k := range prodBy {
		if _, ok := loadBy[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	records := make([]measurement.SilverRecord, len(keys))
	for i, k := range keys {
		start := time.Unix(k, 0).UTC()
		records[i] = measurement.SilverRecord{
			IntervalStart: start,
			IntervalEnd:   start.Add(Step),
			GroupID:       groupID,
			DeviceID:      deviceID,
			PLoadKWh:      loadBy[k],
			PProdKWh:      prodBy[k],
		}
	}
	return records, nil
}

func index(points []Point) (map[int64]float64, error) {
	m := make(map[int64]float64, len(points))
	for _, p := range points {
		k := p.Time.Unix()
		if _, dup := m[k]; dup {
			return nil, fmt.Errorf("%w at %s", ErrDuplicateInterval, p.Time.UTC().Format(time.RFC3339))
		}
		m[k] = p.Value
	}
	return m, nil
}

// Channel runs outlier rejection, resampling and padding on one series.
func Channel(points []Point, w measurement.Window) ([]Point, error) {
	resampled, err := Resample(RejectOutliers(points))
	if err != nil {
		return nil, err
	}
	return Pad(resampled, w), nil
}

// Device reconstructs all measurements of one device over w. Measurements
// of other devices are ignored. The result has one record per grid step.
func Device(groupID, deviceID string, ms []measurement.Measurement, w measurement.Window) ([]measurement.SilverRecord, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	var load, prod []Point
	for _, m := range ms {
		if m.DeviceID != deviceID {
			continue
		}
		p := Point{Time: m.IntervalStart, Value: m.Value}
		switch m.Type {
		case measurement.Load:
			load = append(load, p)
		case measurement.Production:
			prod = append(prod, p)
		}
	}

	loadCh, err := Channel(load, w)
	if err != nil {
		return nil, fmt.Errorf("load channel of %s: %w", deviceID, err)
	}
	prodCh, err := Channel(prod, w)
	if err != nil {
		return nil, fmt.Errorf("production channel of %s: %w", deviceID, err)
	}
	return Merge(groupID, deviceID, loadCh, prodCh)
}
