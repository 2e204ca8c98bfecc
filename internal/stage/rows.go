package stage

import (
	"time"

	"github.com/nerrad567/meterflow-core/internal/measurement"
)

// RawRow is one fetched sample with its batch bookkeeping.
type RawRow struct {
	MeteringPointID string    `parquet:"metering_point_id"`
	Type            int32     `parquet:"type"`
	FromTime        time.Time `parquet:"from_time,timestamp(millisecond)"`
	ToTime          time.Time `parquet:"to_time,timestamp(millisecond)"`
	Value           float64   `parquet:"value"`
	Unit            string    `parquet:"unit"`
	Status          bool      `parquet:"status"`
	Batch           string    `parquet:"batch"`
}

// BronzeRow is a deduplicated sample of a group.
type BronzeRow struct {
	MeteringPointID string    `parquet:"metering_point_id"`
	Type            int32     `parquet:"type"`
	FromTime        time.Time `parquet:"from_time,timestamp(millisecond)"`
	ToTime          time.Time `parquet:"to_time,timestamp(millisecond)"`
	Value           float64   `parquet:"value"`
	Unit            string    `parquet:"unit"`
}

// SilverRow is one reconstructed hour of one device.
type SilverRow struct {
	FromTime        time.Time `parquet:"from_time,timestamp(millisecond)"`
	ToTime          time.Time `parquet:"to_time,timestamp(millisecond)"`
	Topology        string    `parquet:"topology"`
	MeteringPointID string    `parquet:"metering_point_id"`
	PLoadKWh        float64   `parquet:"p_load_kwh"`
	PProdKWh        float64   `parquet:"p_prod_kwh"`
}

func rawFromMeasurement(m measurement.Measurement, batch string) RawRow {
	return RawRow{
		MeteringPointID: m.DeviceID,
		Type:            int32(m.Type.Code()), //nolint:gosec // closed enum
		FromTime:        m.IntervalStart.UTC(),
		ToTime:          m.IntervalEnd.UTC(),
		Value:           m.Value,
		Unit:            m.Unit,
		Status:          m.Status,
		Batch:           batch,
	}
}

func (r RawRow) bronze() BronzeRow {
	return BronzeRow{
		MeteringPointID: r.MeteringPointID,
		Type:            r.Type,
		FromTime:        r.FromTime.UTC(),
		ToTime:          r.ToTime.UTC(),
		Value:           r.Value,
		Unit:            r.Unit,
	}
}

func (r BronzeRow) measurement() measurement.Measurement {
	return measurement.Measurement{
		DeviceID:      r.MeteringPointID,
		Type:          measurement.Type(r.Type),
		IntervalStart: r.FromTime.UTC(),
		IntervalEnd:   r.ToTime.UTC(),
		Value:         r.Value,
		Unit:          r.Unit,
		Status:        true,
	}
}

func silverFromRecord(r measurement.SilverRecord) SilverRow {
	return SilverRow{
		FromTime:        r.IntervalStart.UTC(),
		ToTime:          r.IntervalEnd.UTC(),
		Topology:        r.GroupID,
		MeteringPointID: r.DeviceID,
		PLoadKWh:        r.PLoadKWh,
		PProdKWh:        r.PProdKWh,
	}
}

func (r SilverRow) record() measurement.SilverRecord {
	return measurement.SilverRecord{
		IntervalStart: r.FromTime.UTC(),
		IntervalEnd:   r.ToTime.UTC(),
		GroupID:       r.Topology,
		DeviceID:      r.MeteringPointID,
		PLoadKWh:      r.PLoadKWh,
		PProdKWh:      r.PProdKWh,
	}
}
