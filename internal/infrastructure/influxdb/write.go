package influxdb

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meterflow-core/internal/measurement"
)

// SilverMeasurement is the InfluxDB measurement holding silver records.
const SilverMeasurement = "ami_silver"

// SilverPoint converts one reconstructed interval to a point stamped at
// the interval start.
func SilverPoint(r measurement.SilverRecord) *write.Point {
	return write.NewPoint(
		SilverMeasurement,
		map[string]string{
			"group_id":  r.GroupID,
			"device_id": r.DeviceID,
		},
		map[string]interface{}{
			"p_load_kwh": r.PLoadKWh,
			"p_prod_kwh": r.PProdKWh,
			"p_net_kwh":  r.NetKWh(),
		},
		r.IntervalStart.UTC(),
	)
}

// WriteSilver writes records in chunks of the configured batch size and
// returns how many were accepted. It stops at the first rejected chunk.
func (c *Client) WriteSilver(ctx context.Context, records []measurement.SilverRecord) (int, error) {
	if !c.IsConnected() {
		return 0, ErrNotConnected
	}

	written := 0
	points := make([]*write.Point, 0, min(c.batchSize, len(records)))
	for start := 0; start < len(records); start += c.batchSize {
		end := min(start+c.batchSize, len(records))
		points = points[:0]
		for _, r := range records[start:end] {
			points = append(points, SilverPoint(r))
		}
		if err := c.writer.WritePoint(ctx, points...); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return written, ctxErr
			}
			return written, fmt.Errorf("%w: records %d-%d: %w", ErrWriteFailed, start, end-1, err)
		}
		written += end - start
	}
	return written, nil
}
