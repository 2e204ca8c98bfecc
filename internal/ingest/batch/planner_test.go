package batch

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/nerrad567/meterflow-core/internal/measurement"
)

var t0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func query(devices int, d time.Duration) measurement.Query {
	ids := make([]string, devices)
	for i := range ids {
		ids[i] = fmt.Sprintf("dev-%d", i)
	}
	return measurement.Query{
		GroupID:    "T1",
		DeviceIDs:  ids,
		From:       t0,
		To:         t0.Add(d),
		Resolution: 1,
		Type:       measurement.Load,
		IsUTC:      true,
	}
}

func TestPlan_ThreeDevicesTwoDays(t *testing.T) {
	batches, err := Plan(query(3, 48*time.Hour), 50)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("Plan() = %d batches, want 3", len(batches))
	}

	wantStarts := []int{0, 16, 32}
	for i, b := range batches {
		if !b.From.Equal(t0.Add(time.Duration(wantStarts[i]) * time.Hour)) {
			t.Errorf("batch %d From = %v, want +%dh", i, b.From, wantStarts[i])
		}
		if b.To.Sub(b.From) != 16*time.Hour {
			t.Errorf("batch %d span = %v, want 16h", i, b.To.Sub(b.From))
		}
		if len(b.DeviceIDs) != 3 || b.GroupID != "T1" || b.Type != measurement.Load {
			t.Errorf("batch %d lost query fields: %+v", i, b)
		}
	}
}

func TestPlan_CoverageAndBudget(t *testing.T) {
	tests := []struct {
		name    string
		devices int
		d       time.Duration
		limit   int
	}{
		{"exact", 3, 48 * time.Hour, 50},
		{"uneven tail", 3, 100 * time.Hour, 50},
		{"single device", 1, 24 * 31 * time.Hour, 20000},
		{"large group", 734, 24 * 365 * time.Hour, 20000},
		{"limit equals devices", 7, 10 * time.Hour, 7},
		{"shorter than span", 2, 3 * time.Hour, 1000},
		{"fractional hours", 4, 90 * time.Minute, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := query(tt.devices, tt.d)
			batches, err := Plan(q, tt.limit)
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}

			n, err := Count(q, tt.limit)
			if err != nil || n != len(batches) {
				t.Errorf("Count() = %d, %v, want %d", n, err, len(batches))
			}

			cursor := q.From
			for i, b := range batches {
				if !b.From.Equal(cursor) {
					t.Fatalf("batch %d From = %v, want %v (gap or overlap)", i, b.From, cursor)
				}
				if !b.From.Before(b.To) {
					t.Fatalf("batch %d is empty", i)
				}
				hours := b.To.Sub(b.From).Hours()
				if samples := hours * float64(tt.devices); samples > float64(tt.limit) {
					t.Errorf("batch %d = %.1f device-hours, over limit %d", i, samples, tt.limit)
				}
				cursor = b.To
			}
			if !cursor.Equal(q.To) {
				t.Errorf("batches end at %v, want %v", cursor, q.To)
			}
		})
	}
}

func TestPlan_BatchesAreIndependentCopies(t *testing.T) {
	q := query(2, 10*time.Hour)
	batches, err := Plan(q, 2)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	batches[0].DeviceIDs[0] = "mutated"
	if q.DeviceIDs[0] != "dev-0" || batches[1].DeviceIDs[0] != "dev-0" {
		t.Error("mutating one batch's device IDs affected another query")
	}
}

func TestPlan_Errors(t *testing.T) {
	tests := []struct {
		name    string
		q       measurement.Query
		limit   int
		wantErr error
	}{
		{"no devices", query(0, 48*time.Hour), 50, measurement.ErrNoDevices},
		{"zero limit", query(3, 48*time.Hour), 0, ErrInvalidLimit},
		{"limit over max", query(1, 48*time.Hour), MaxLimit + 1, ErrInvalidLimit},
		{"limit near max int", query(1, 48*time.Hour), math.MaxInt, ErrInvalidLimit},
		{"devices over limit", query(51, 48*time.Hour), 50, ErrBudgetTooSmall},
		{"empty range", query(3, 0), 50, measurement.ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.q, tt.limit)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Plan() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSpan(t *testing.T) {
	span, err := Span(3, 50)
	if err != nil || span != 16*time.Hour {
		t.Errorf("Span(3, 50) = %v, %v, want 16h", span, err)
	}
	span, err = Span(20000, 20000)
	if err != nil || span != time.Hour {
		t.Errorf("Span(20000, 20000) = %v, %v, want 1h", span, err)
	}
	span, err = Span(1, MaxLimit)
	if err != nil || span <= 0 || span != MaxLimit*time.Hour {
		t.Errorf("Span(1, MaxLimit) = %v, %v, want %d hours", span, err, MaxLimit)
	}
}

func TestPlan_LargestLimitCoversRangeOnce(t *testing.T) {
	q := query(1, 48*time.Hour)
	batches, err := Plan(q, MaxLimit)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(batches) != 1 || !batches[0].From.Equal(q.From) || !batches[0].To.Equal(q.To) {
		t.Errorf("Plan(MaxLimit) = %+v, want one batch over the whole range", batches)
	}
}
