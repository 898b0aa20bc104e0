package influxdb

import "errors"

// ErrConnectionFailed is returned by Connect when the server cannot be
// reached or reports itself unhealthy. Telemetry is optional, so callers
// log it and run without a Recorder.
var ErrConnectionFailed = errors.New("influxdb: connection failed")
