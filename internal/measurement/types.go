package measurement

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is the measured energy channel. Values are the bulk API type codes.
type Type int

const (
	// Load is energy drawn from the grid.
	Load Type = 1
	// Production is energy fed into the grid.
	Production Type = 3
)

// AllTypes lists the supported types in fetch order.
var AllTypes = []Type{Load, Production}

// Valid reports whether t is a supported type.
func (t Type) Valid() bool {
	return t == Load || t == Production
}

// Code returns the bulk API type code.
func (t Type) Code() int {
	return int(t)
}

func (t Type) String() string {
	switch t {
	case Load:
		return "load"
	case Production:
		return "production"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// TypeFromCode converts a bulk API type code.
func TypeFromCode(code int) (Type, error) {
	t := Type(code)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: code %d", ErrInvalidType, code)
	}
	return t, nil
}

// ParseType accepts a type name ("load", "production") or its numeric code.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "load":
		return Load, nil
	case "production", "prod":
		return Production, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return TypeFromCode(code)
}

// ParseTypes parses a list of type names, rejecting duplicates.
func ParseTypes(names []string) ([]Type, error) {
	seen := make(map[Type]bool, len(names))
	types := make([]Type, 0, len(names))
	for _, n := range names {
		t, err := ParseType(n)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidType, t)
		}
		seen[t] = true
		types = append(types, t)
	}
	return types, nil
}

// Query describes one fetch: a device set over a half-open time range.
type Query struct {
	GroupID    string
	DeviceIDs  []string
	From       time.Time
	To         time.Time
	Resolution int // hours
	Type       Type
	IsUTC      bool
}

// Validate checks the query invariants.
func (q Query) Validate() error {
	if len(q.DeviceIDs) == 0 {
		return ErrNoDevices
	}
	for i, id := range q.DeviceIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w at index %d", ErrEmptyDeviceID, i)
		}
	}
	if !q.From.Before(q.To) {
		return fmt.Errorf("%w: %s >= %s", ErrInvalidRange, q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	if q.Resolution < 1 {
		return ErrInvalidResolution
	}
	if !q.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidType, int(q.Type))
	}
	return nil
}

// Duration returns the length of the query range.
func (q Query) Duration() time.Duration {
	return q.To.Sub(q.From)
}

// signatureLayout is filesystem safe on every platform.
const signatureLayout = "20060102T150405Z"

// Signature identifies a fetch by range, resolution and type. It is used as
// the raw file name for the batch.
func (q Query) Signature() string {
	return fmt.Sprintf("%s_%s_R%d_T%d",
		q.From.UTC().Format(signatureLayout),
		q.To.UTC().Format(signatureLayout),
		q.Resolution,
		q.Type.Code(),
	)
}

// Measurement is one interval reading for one device.
type Measurement struct {
	DeviceID      string
	Type          Type
	IntervalStart time.Time
	IntervalEnd   time.Time
	Value         float64 // kWh
	Unit          string
	Status        bool
}

// Key identifies a measurement for deduplication.
type Key struct {
	DeviceID string
	Start    int64
	End      int64
	Type     Type
}

// Key returns the deduplication key of m.
func (m Measurement) Key() Key {
	return Key{
		DeviceID: m.DeviceID,
		Start:    m.IntervalStart.UnixNano(),
		End:      m.IntervalEnd.UnixNano(),
		Type:     m.Type,
	}
}

// Dedupe drops measurements whose key was already seen, keeping the first
// occurrence and the input order.
func Dedupe(ms []Measurement) []Measurement {
	seen := make(map[Key]struct{}, len(ms))
	out := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		k := m.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Validate checks that the window is non-empty.
func (w Window) Validate() error {
	if !w.From.Before(w.To) {
		return fmt.Errorf("%w: %s >= %s", ErrInvalidRange, w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t lies in [From, To).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// SilverRecord is one reconstructed hourly interval of one device.
type SilverRecord struct {
	IntervalStart time.Time `json:"interval_start"`
	IntervalEnd   time.Time `json:"interval_end"`
	GroupID       string    `json:"group_id"`
	DeviceID      string    `json:"device_id"`
	PLoadKWh      float64   `json:"p_load_kwh"`
	PProdKWh      float64   `json:"p_prod_kwh"`
}

// NetKWh is load minus production for the interval.
func (r SilverRecord) NetKWh() float64 {
	return r.PLoadKWh - r.PProdKWh
}
