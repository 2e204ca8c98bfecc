// Package influxdb exports reconstructed silver series to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Writes go through the
// blocking write API in chunks of batch_size points, so a failed export
// reports how far it got.
//
// Each silver record becomes one point:
//
//	ami_silver,device_id=<id>,group_id=<topology> p_load_kwh=..,p_prod_kwh=..,p_net_kwh=.. <interval start>
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	n, err := client.WriteSilver(ctx, records)
package influxdb
