// Package mqtt publishes meterflow status and ingestion events to an MQTT
// broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and size checks
//   - Last Will and Testament (LWT) so subscribers see a crashed run
//   - Connection health reporting
//
// Ingestion progress is published as retained JSON so a dashboard that
// connects mid-run sees the latest state immediately:
//
//	meterflow/system/status          online/offline (retained, LWT)
//	meterflow/ingest/progress        [processed/total] after each group (retained)
//	meterflow/ingest/group/{group}   completed, incomplete, batch_failed
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "ingest")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.IngestProgress(), progress, true)
//
// Broker-dependent tests are behind the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
