package radio

import (
	"errors"
	"net"
	"testing"
)

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		reason int
		want   bool
	}{
		{ReasonUnspecified, false},
		{ReasonLeaving, false},
		{8, false},
		{ReasonAuthFail, true},
		{200, false},
		{201, true},
		{205, true},
		{209, true},
		{210, false},
	}
	for _, tt := range tests {
		if got := IsAuthFailure(tt.reason); got != tt.want {
			t.Errorf("IsAuthFailure(%d) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestEvent_Err(t *testing.T) {
	ev := Event{Kind: EventDisconnected, Reason: 15}
	if !errors.Is(ev.Err(), ErrAuthFailed) {
		t.Errorf("Err() = %v, want ErrAuthFailed", ev.Err())
	}
	if (Event{Kind: EventDisconnected, Reason: 8}).Err() != nil {
		t.Error("non-auth disconnect returned an error")
	}
	if (Event{Kind: EventConnected, Reason: 15}).IsAuthFailure() {
		t.Error("connected event reported as auth failure")
	}
}

func TestAPSSID(t *testing.T) {
	mac := net.HardwareAddr{0x24, 0x0a, 0xc4, 0x1a, 0x2b, 0x3c}
	if got := APSSID("provisiond-", mac, "device_0070"); got != "provisiond-1A2B3C" {
		t.Errorf("APSSID() = %q, want provisiond-1A2B3C", got)
	}
	if got := APSSID("provisiond-", nil, "device_0070"); got != "provisiond-device_0070" {
		t.Errorf("APSSID() without MAC = %q", got)
	}
}

func TestEventKind_String(t *testing.T) {
	if EventGotIP.String() != "got_ip" || EventKind(42).String() != "event(42)" {
		t.Error("unexpected EventKind strings")
	}
}
