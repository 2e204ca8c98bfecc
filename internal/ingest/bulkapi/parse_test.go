package bulkapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/meterflow-core/internal/measurement"
)

func TestParse_RejectsIncompleteRows(t *testing.T) {
	body := `[
	  {"meteringPointId": "m1", "timeseries": [
	    {"fromTime": "2023-01-01T00:00:00", "toTime": "2023-01-01T01:00:00", "value": 0.5, "unit": "kWh", "status": 1},
	    {"fromTime": "2023-01-01T01:00:00", "toTime": "2023-01-01T02:00:00", "value": null, "unit": "kWh", "status": true},
	    {"fromTime": "2023-01-01T02:00:00", "toTime": "2023-01-01T03:00:00", "value": 0.1, "status": true},
	    {"fromTime": "garbage", "toTime": "2023-01-01T04:00:00", "value": 0.1, "unit": "kWh", "status": true},
	    {"fromTime": "2023-01-01T05:00:00", "toTime": "2023-01-01T04:00:00", "value": 0.1, "unit": "kWh", "status": true}
	  ]},
	  {"timeseries": [{"fromTime": "2023-01-01T00:00:00", "toTime": "2023-01-01T01:00:00", "value": 1, "unit": "kWh", "status": true}]},
	  {"meteringPointId": "m3", "type": 2, "timeseries": []}
	]`

	res, err := Parse([]byte(body), testQuery())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Measurements) != 1 {
		t.Fatalf("Measurements = %d, want 1", len(res.Measurements))
	}
	m := res.Measurements[0]
	if m.DeviceID != "m1" || m.Type != measurement.Load || m.Value != 0.5 || !m.Status {
		t.Errorf("Measurement = %+v", m)
	}
	if !m.IntervalStart.Equal(t0) || m.IntervalEnd.Sub(m.IntervalStart) != time.Hour {
		t.Errorf("interval = %v..%v", m.IntervalStart, m.IntervalEnd)
	}

	wantFields := []string{"value", "unit", "fromTime", "toTime", "meteringPointId", "type"}
	if len(res.Rejected) != len(wantFields) {
		t.Fatalf("Rejected = %d (%v), want %d", len(res.Rejected), res.Rejected, len(wantFields))
	}
	for i, f := range wantFields {
		if res.Rejected[i].Field != f {
			t.Errorf("Rejected[%d].Field = %q, want %q", i, res.Rejected[i].Field, f)
		}
	}
	if res.Rejected[0].Index != 1 || res.Rejected[4].Index != -1 {
		t.Errorf("row indexes = %d, %d, want 1, -1", res.Rejected[0].Index, res.Rejected[4].Index)
	}
}

func TestParse_TypeFromResponse(t *testing.T) {
	body := `[{"meteringPointId": "m1", "type": 3, "timeseries": [
	  {"fromTime": "2023-01-01T00:00:00Z", "toTime": "2023-01-01T01:00:00Z", "value": 2, "unit": "kWh", "status": false}
	]}]`

	res, err := Parse([]byte(body), testQuery())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := res.Measurements[0].Type; got != measurement.Production {
		t.Errorf("Type = %v, want production", got)
	}
}

func TestParse_TimeZones(t *testing.T) {
	body := `[{"meteringPointId": "m1", "timeseries": [
	  {"fromTime": "2023-01-01T01:00:00+01:00", "toTime": "2023-01-01T01:00:00", "value": 2, "unit": "kWh", "status": true}
	]}]`

	res, err := Parse([]byte(body), testQuery())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	m := res.Measurements[0]
	if !m.IntervalStart.Equal(t0) || !m.IntervalEnd.Equal(t0.Add(time.Hour)) {
		t.Errorf("interval = %v..%v, want 00:00..01:00 UTC", m.IntervalStart, m.IntervalEnd)
	}
	if m.IntervalStart.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", m.IntervalStart.Location())
	}
}

func TestParse_Empty(t *testing.T) {
	for _, body := range []string{`[]`, `[{"meteringPointId": "m1", "timeseries": null}]`} {
		if _, err := Parse([]byte(body), testQuery()); !errors.Is(err, ErrEmptyBatch) {
			t.Errorf("Parse(%s) error = %v, want ErrEmptyBatch", body, err)
		}
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_Retryable(t *testing.T) {
	p := RetryPolicy{StatusCodes: []int{500}}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"listed status", &StatusError{Code: 500}, true},
		{"unlisted status", &StatusError{Code: 404}, false},
		{"transport", &transportError{err: errors.New("connection reset")}, true},
		{"cancelled", context.Canceled, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
