package radio

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/nerrad567/provisiond/internal/scancache"
)

var (
	// ErrAuthFailed is the AuthError of the taxonomy: the access point
	// rejected the station credentials.
	ErrAuthFailed = errors.New("radio: authentication failed")

	// ErrAPNotActive is returned by operations that need the AP.
	ErrAPNotActive = errors.New("radio: access point not active")

	// ErrScanFailed wraps scan failures.
	ErrScanFailed = errors.New("radio: scan failed")

	// ErrInterfaceNotFound is returned when a configured interface is missing.
	ErrInterfaceNotFound = errors.New("radio: interface not found")
)

// Disconnect reason codes the drivers report.
const (
	ReasonUnspecified = 1
	ReasonLeaving     = 3
	ReasonAuthFail    = 15
	ReasonNoAPFound   = 201
)

// IsAuthFailure reports whether a disconnect reason means the credentials
// were rejected: 15 or the 201-209 handshake/cipher range.
func IsAuthFailure(reason int) bool {
	return reason == ReasonAuthFail || (reason >= 201 && reason <= 209)
}

// EventKind identifies a link event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventGotIP
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventGotIP:
		return "got_ip"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a station link change.
type Event struct {
	Kind EventKind
	// Reason is set for EventDisconnected.
	Reason int
	// IP is set for EventGotIP.
	IP string
}

// IsAuthFailure reports whether the event is a credential rejection.
func (e Event) IsAuthFailure() bool {
	return e.Kind == EventDisconnected && IsAuthFailure(e.Reason)
}

// Err returns ErrAuthFailed wrapped with the reason for auth failures.
func (e Event) Err() error {
	if e.IsAuthFailure() {
		return fmt.Errorf("%w: reason %d", ErrAuthFailed, e.Reason)
	}
	return nil
}

// APConfig describes the provisioning access point.
type APConfig struct {
	SSID string
	// Password enables WPA2-PSK when non-empty.
	Password       string
	Channel        int
	MaxConnections int
	// Address is the AP's IPv4 address; the AP network is its /24.
	Address string
}

// Link is a snapshot of the station link.
type Link struct {
	SSID      string
	Connected bool
	// Pending is true from a Connect until the link comes up or fails.
	Pending bool
	IP      string
}

// Driver is the radio the provisioning service and the orchestrator use.
type Driver interface {
	// StartAP brings up the access point alongside the station interface.
	// Starting an active AP is a no-op.
	StartAP(ctx context.Context, cfg APConfig) error

	// StopAP tears the access point down. Stopping an inactive AP is a no-op.
	StopAP(ctx context.Context) error

	// APActive reports whether the access point is up.
	APActive() bool

	// Scan performs a synchronous scan on the station interface.
	Scan(ctx context.Context) ([]scancache.Network, error)

	// Connect issues a station connection and returns without waiting for it.
	Connect(ctx context.Context, ssid, password string) error

	// Disconnect drops the station link.
	Disconnect(ctx context.Context) error

	// Link returns the current station link state.
	Link() Link

	// MAC returns the hardware address of the station interface.
	MAC() (net.HardwareAddr, error)

	// SetEventSink installs the receiver of link events.
	SetEventSink(sink func(Event))

	// Close releases every radio resource.
	Close() error
}

// APSSID derives the AP name from a prefix and the last three bytes of the
// radio MAC. fallback is used when the MAC is unavailable.
func APSSID(prefix string, mac net.HardwareAddr, fallback string) string {
	if len(mac) >= 3 {
		return fmt.Sprintf("%s%02X%02X%02X", prefix, mac[len(mac)-3], mac[len(mac)-2], mac[len(mac)-1])
	}
	return prefix + fallback
}
