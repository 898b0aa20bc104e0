// Package telemetry builds and encodes the heartbeat the device publishes
// while connected to the broker.
//
// A heartbeat identifies the boot (a random UUID chosen at process start)
// and carries a per-boot sequence number, so the backend can spot restarts
// and gaps. The payload is JSON by default; CBOR keeps it small on
// constrained uplinks.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// ErrUnknownFormat is returned by NewEncoder for an unsupported format.
var ErrUnknownFormat = errors.New("telemetry: unknown format")

// Supported encodings.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Heartbeat is one liveness message.
type Heartbeat struct {
	DeviceID  string    `json:"device_id" cbor:"1,keyasint"`
	BootID    string    `json:"boot_id" cbor:"2,keyasint"`
	Sequence  uint64    `json:"seq" cbor:"3,keyasint"`
	Timestamp time.Time `json:"timestamp" cbor:"4,keyasint"`
	UptimeSec int64     `json:"uptime_s" cbor:"5,keyasint"`
	State     string    `json:"state" cbor:"6,keyasint"`
	IP        string    `json:"ip,omitempty" cbor:"7,keyasint,omitempty"`
}

// Beacon produces consecutive heartbeats for one boot.
type Beacon struct {
	deviceID string
	bootID   string
	started  time.Time
	seq      atomic.Uint64

	// now is replaced in tests.
	now func() time.Time
}

// NewBeacon starts a new boot with a fresh boot id.
func NewBeacon(deviceID string) *Beacon {
	return &Beacon{
		deviceID: deviceID,
		bootID:   uuid.NewString(),
		started:  time.Now(),
		now:      time.Now,
	}
}

// BootID returns the id of this boot.
func (b *Beacon) BootID() string {
	return b.bootID
}

// Next returns the next heartbeat; the first has sequence 1.
func (b *Beacon) Next(state, ip string) Heartbeat {
	now := b.now()
	return Heartbeat{
		DeviceID:  b.deviceID,
		BootID:    b.bootID,
		Sequence:  b.seq.Inc(),
		Timestamp: now.UTC(),
		UptimeSec: int64(now.Sub(b.started) / time.Second),
		State:     state,
		IP:        ip,
	}
}

// Encoder serialises heartbeats in one format.
type Encoder struct {
	format string
	cbor   cbor.EncMode
}

// NewEncoder creates an encoder for "json" or "cbor" (case-insensitive;
// empty means json).
func NewEncoder(format string) (*Encoder, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", FormatJSON:
		return &Encoder{format: FormatJSON}, nil
	case FormatCBOR:
		opts := cbor.CoreDetEncOptions()
		opts.Time = cbor.TimeUnix
		mode, err := opts.EncMode()
		if err != nil {
			return nil, fmt.Errorf("telemetry: cbor encoder: %w", err)
		}
		return &Encoder{format: FormatCBOR, cbor: mode}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Format returns the encoder's format name.
func (e *Encoder) Format() string {
	return e.format
}

// Encode serialises a heartbeat.
func (e *Encoder) Encode(hb Heartbeat) ([]byte, error) {
	if e.format == FormatCBOR {
		return e.cbor.Marshal(hb)
	}
	return json.Marshal(hb)
}
