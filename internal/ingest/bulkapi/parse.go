package bulkapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/meterflow-core/internal/measurement"
)

// timeLayout is the zone-less timestamp format of the bulk API.
const timeLayout = "2006-01-02T15:04:05"

// Result is the parsed content of one bulk response.
type Result struct {
	Measurements []measurement.Measurement
	Rejected     []*RowError
	// EmptyDevices lists devices whose series had no usable rows.
	EmptyDevices []string
}

// Devices returns the number of devices contributing at least one row.
func (r *Result) Devices() int {
	seen := make(map[string]struct{})
	for _, m := range r.Measurements {
		seen[m.DeviceID] = struct{}{}
	}
	return len(seen)
}

type wireDevice struct {
	MeteringPointID *string     `json:"meteringPointId"`
	Type            *int        `json:"type"`
	Timeseries      []wirePoint `json:"timeseries"`
}

type wirePoint struct {
	FromTime *string  `json:"fromTime"`
	ToTime   *string  `json:"toTime"`
	Value    *float64 `json:"value"`
	Unit     *string  `json:"unit"`
	Status   *flag    `json:"status"`
}

// flag accepts JSON booleans and 0/1 numbers.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "true", "1":
		*f = true
	case "false", "0":
		*f = false
	default:
		return fmt.Errorf("invalid status flag %s", b)
	}
	return nil
}

// Parse decodes a bulk response. Rows with missing fields are rejected,
// devices left with no rows are excluded, and a response with nothing usable
// returns ErrEmptyBatch. Rows without an explicit type take q.Type.
func Parse(body []byte, q measurement.Query) (*Result, error) {
	var devices []json.RawMessage
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	loc := time.UTC
	if !q.IsUTC {
		loc = time.Local
	}

	res := &Result{}
	for _, raw := range devices {
		var d wireDevice
		if err := json.Unmarshal(raw, &d); err != nil {
			res.Rejected = append(res.Rejected, &RowError{Index: -1, Field: "device", Reason: err.Error()})
			continue
		}
		if d.MeteringPointID == nil || *d.MeteringPointID == "" {
			res.Rejected = append(res.Rejected, &RowError{Index: -1, Field: "meteringPointId", Reason: "missing"})
			continue
		}
		id := *d.MeteringPointID

		typ := q.Type
		if d.Type != nil {
			t, err := measurement.TypeFromCode(*d.Type)
			if err != nil {
				res.Rejected = append(res.Rejected, &RowError{DeviceID: id, Index: -1, Field: "type", Reason: err.Error()})
				continue
			}
			typ = t
		}

		before := len(res.Measurements)
		for i, p := range d.Timeseries {
			m, rowErr := p.toMeasurement(id, typ, loc)
			if rowErr != nil {
				rowErr.Index = i
				res.Rejected = append(res.Rejected, rowErr)
				continue
			}
			res.Measurements = append(res.Measurements, m)
		}
		if len(res.Measurements) == before {
			res.EmptyDevices = append(res.EmptyDevices, id)
		}
	}

	if len(res.Measurements) == 0 {
		return res, fmt.Errorf("%w: %d devices, %d rejected rows", ErrEmptyBatch, len(devices), len(res.Rejected))
	}
	return res, nil
}

func (p wirePoint) toMeasurement(id string, typ measurement.Type, loc *time.Location) (measurement.Measurement, *RowError) {
	reject := func(field, reason string) (measurement.Measurement, *RowError) {
		return measurement.Measurement{}, &RowError{DeviceID: id, Field: field, Reason: reason}
	}
	switch {
	case p.FromTime == nil:
		return reject("fromTime", "missing")
	case p.ToTime == nil:
		return reject("toTime", "missing")
	case p.Value == nil:
		return reject("value", "missing")
	case p.Unit == nil:
		return reject("unit", "missing")
	case p.Status == nil:
		return reject("status", "missing")
	}

	from, err := parseTime(*p.FromTime, loc)
	if err != nil {
		return reject("fromTime", err.Error())
	}
	to, err := parseTime(*p.ToTime, loc)
	if err != nil {
		return reject("toTime", err.Error())
	}
	if !from.Before(to) {
		return reject("toTime", "not after fromTime")
	}

	return measurement.Measurement{
		DeviceID:      id,
		Type:          typ,
		IntervalStart: from,
		IntervalEnd:   to,
		Value:         *p.Value,
		Unit:          *p.Unit,
		Status:        bool(*p.Status),
	}, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(timeLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}
