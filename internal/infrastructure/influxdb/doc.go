// Package influxdb records device lifecycle telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Recorder turns
// orchestrator events into points and hands them to a PointWriter; Client
// is that writer in production, batching points in the background:
//
//	lifecycle_transition  from, to        dwell_ms
//	lifecycle_retry       state           attempt, cause
//	heartbeat                             seq, uptime_s
//
// All points carry device_id and boot_id tags.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	rec := influxdb.NewRecorder(client, deviceID, beacon.BootID())
//	rec.RecordTransition("WIFI_CONNECTING", "WIFI_CONNECTED", 3*time.Second)
//
// The integration is optional. A nil *Recorder is valid and records
// nothing.
//
// # Error Handling
//
// Connect returns ErrConnectionFailed when the server is unreachable.
// After that, batch write errors are delivered only through the
// SetOnError callback.
package influxdb
