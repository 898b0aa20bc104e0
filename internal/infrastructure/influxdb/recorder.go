package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the Recorder.
const (
	MeasurementTransition = "lifecycle_transition"
	MeasurementRetry      = "lifecycle_retry"
	MeasurementHeartbeat  = "heartbeat"
)

// PointWriter accepts points for asynchronous delivery.
// api.WriteAPI and *Client satisfy it.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Recorder turns orchestrator lifecycle events into points. Every point is
// tagged with the device id and the boot id. A nil *Recorder records
// nothing, so callers need no enabled check.
type Recorder struct {
	w        PointWriter
	deviceID string
	bootID   string

	// now is replaced in tests.
	now func() time.Time
}

// NewRecorder creates a Recorder writing through w.
func NewRecorder(w PointWriter, deviceID, bootID string) *Recorder {
	return &Recorder{w: w, deviceID: deviceID, bootID: bootID, now: time.Now}
}

// RecordTransition records a state change and the time spent in the
// previous state.
func (r *Recorder) RecordTransition(from, to string, dwell time.Duration) {
	if r == nil {
		return
	}
	r.write(MeasurementTransition,
		map[string]string{"from": from, "to": to},
		map[string]interface{}{"dwell_ms": dwell.Milliseconds()},
	)
}

// RecordRetry records a failed attempt within a state.
//
// Parameters:
//   - state: The state whose action failed (e.g. "SUBMIT_CSR")
//   - attempt: 1-based attempt counter within the current state entry
//   - cause: Short error text; empty is omitted
func (r *Recorder) RecordRetry(state string, attempt int, cause string) {
	if r == nil {
		return
	}
	fields := map[string]interface{}{"attempt": attempt}
	if cause != "" {
		fields["cause"] = cause
	}
	r.write(MeasurementRetry, map[string]string{"state": state}, fields)
}

// RecordHeartbeat records one connected heartbeat.
func (r *Recorder) RecordHeartbeat(seq uint64, uptime time.Duration) {
	if r == nil {
		return
	}
	r.write(MeasurementHeartbeat, nil, map[string]interface{}{
		"seq":      int64(seq), //nolint:gosec // Sequence stays far below MaxInt64
		"uptime_s": int64(uptime / time.Second),
	})
}

func (r *Recorder) write(measurement string, tags map[string]string, fields map[string]interface{}) {
	all := map[string]string{
		"device_id": r.deviceID,
		"boot_id":   r.bootID,
	}
	for k, v := range tags {
		all[k] = v
	}
	r.w.WritePoint(write.NewPoint(measurement, all, fields, r.now()))
}
