// Package influxdb provides time-series storage for beobridge telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, metric writing, and health monitoring.
//
// # Purpose
//
// This package records:
//   - Volume and playback activity per Mozart device
//   - Battery state for portable devices
//   - Websocket connection stability metrics
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled means the sink is off; treat as non-fatal
//	}
//	defer client.Close()
//
//	client.WriteVolumeMetric("1234.1234567.12345678@products.bang-olufsen.com", 35, false)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; async
// write errors are delivered via the SetOnError callback.
package influxdb
