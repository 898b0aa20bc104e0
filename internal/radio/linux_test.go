package radio

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

const sampleScan = `BSS 11:22:33:44:55:66(on wlan0)
	TSF: 123 usec
	freq: 2437
	capability: ESS Privacy ShortSlotTime (0x0411)
	signal: -48.00 dBm
	SSID: HomeNet
	DS Parameter set: channel 6
	RSN:	 * Version: 1
BSS 11:22:33:44:55:77(on wlan0)
	freq: 2412
	capability: ESS ShortSlotTime (0x0401)
	signal: -71.00 dBm
	SSID: CafeGuest
BSS 11:22:33:44:55:88(on wlan0)
	freq: 5180
	capability: ESS Privacy (0x0011)
	signal: -40.00 dBm
	SSID: HomeNet
	HT operation:
		 * primary channel: 36
BSS 11:22:33:44:55:99(on wlan0)
	freq: 2462
	signal: -30.00 dBm
	SSID: 
`

func TestParseScan(t *testing.T) {
	nets := parseScan(sampleScan)
	if len(nets) != 2 {
		t.Fatalf("parseScan() returned %d networks, want 2: %+v", len(nets), nets)
	}

	home := nets[0]
	if home.SSID != "HomeNet" || home.RSSI != -40 || home.Channel != 36 || !home.Secure {
		t.Errorf("HomeNet = %+v, want strongest BSS on channel 36, secure", home)
	}
	cafe := nets[1]
	if cafe.SSID != "CafeGuest" || cafe.RSSI != -71 || cafe.Channel != 1 || cafe.Secure {
		t.Errorf("CafeGuest = %+v, want open on channel 1 (from freq)", cafe)
	}
}

func TestChannelFromFreq(t *testing.T) {
	tests := map[int]int{2412: 1, 2437: 6, 2472: 13, 2484: 14, 5180: 36, 900: 0}
	for freq, want := range tests {
		if got := channelFromFreq(freq); got != want {
			t.Errorf("channelFromFreq(%d) = %d, want %d", freq, got, want)
		}
	}
}

func TestParseSupplicantLine(t *testing.T) {
	tests := []struct {
		line   string
		ok     bool
		kind   EventKind
		reason int
	}{
		{"wlan0: CTRL-EVENT-CONNECTED - Connection to 11:22:33:44:55:66 completed [id=0 id_str=]", true, EventConnected, 0},
		{"wlan0: CTRL-EVENT-DISCONNECTED bssid=11:22:33:44:55:66 reason=3 locally_generated=1", true, EventDisconnected, 3},
		{"wlan0: CTRL-EVENT-DISCONNECTED bssid=11:22:33:44:55:66 reason=15", true, EventDisconnected, 15},
		{"wlan0: CTRL-EVENT-DISCONNECTED bssid=11:22:33:44:55:66", true, EventDisconnected, ReasonUnspecified},
		{`wlan0: CTRL-EVENT-SSID-TEMP-DISABLED id=0 ssid="home" auth_failures=1 duration=10 reason=WRONG_KEY`, true, EventDisconnected, ReasonAuthFail},
		{`wlan0: CTRL-EVENT-SSID-TEMP-DISABLED id=0 ssid="home" auth_failures=1 duration=10 reason=CONN_FAILED`, true, EventDisconnected, ReasonNoAPFound},
		{`wlan0: CTRL-EVENT-SSID-TEMP-DISABLED id=0 ssid="home" auth_failures=1 duration=10`, false, 0, 0},
		{"wlan0: CTRL-EVENT-NETWORK-NOT-FOUND", true, EventDisconnected, ReasonNoAPFound},
		{"<3>CTRL-EVENT-NETWORK-NOT-FOUND", true, EventDisconnected, ReasonNoAPFound},
		{"Successfully initialized wpa_supplicant", false, 0, 0},
	}
	for _, tt := range tests {
		ev, ok := parseSupplicantLine(tt.line)
		if ok != tt.ok {
			t.Errorf("parseSupplicantLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if ok && (ev.Kind != tt.kind || ev.Reason != tt.reason) {
			t.Errorf("parseSupplicantLine(%q) = %+v, want kind %v reason %d", tt.line, ev, tt.kind, tt.reason)
		}
	}
}

func TestWPAPSK(t *testing.T) {
	// IEEE 802.11i test vector.
	got, err := wpaPSK("IEEE", "password")
	if err != nil {
		t.Fatal(err)
	}
	want := "f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e"
	if got != want {
		t.Errorf("wpaPSK() = %s, want %s", got, want)
	}

	if _, err := wpaPSK("IEEE", "short"); err == nil {
		t.Error("wpaPSK() with 5-char passphrase error = nil")
	}
}

func TestRenderConfs(t *testing.T) {
	hostapd := renderHostapdConf("uap0", "/run/provisiond/hostapd", APConfig{
		SSID: "provisiond-A1B2C3", Password: "setup-pass", Channel: 1, MaxConnections: 4,
	})
	for _, want := range []string{"interface=uap0", "ssid2=70726f766973696f6e642d413142324333", "channel=1", "max_num_sta=4", "wpa=2", "wpa_passphrase=setup-pass"} {
		if !strings.Contains(hostapd, want) {
			t.Errorf("hostapd.conf missing %q:\n%s", want, hostapd)
		}
	}
	open := renderHostapdConf("uap0", "/run/x", APConfig{SSID: "x", Channel: 1, MaxConnections: 4})
	if strings.Contains(open, "wpa=") {
		t.Error("open AP config contains wpa settings")
	}

	supp, err := renderSupplicantConf("/run/x", `quote"d`, "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(supp, "hunter2") || !strings.Contains(supp, "key_mgmt=WPA-PSK") {
		t.Errorf("supplicant conf leaks passphrase or lacks PSK:\n%s", supp)
	}
	openSupp, _ := renderSupplicantConf("/run/x", "cafe", "")
	if !strings.Contains(openSupp, "key_mgmt=NONE") {
		t.Error("open network conf lacks key_mgmt=NONE")
	}
}

// writeScript creates an executable shell script standing in for a daemon.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil { //nolint:gosec // Test helper
		t.Fatal(err)
	}
	return path
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	out   map[string]string
	err   map[string]error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := filepath.Base(name) + " " + strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	return []byte(f.out[cmd]), f.err[cmd]
}

func newTestLinux(t *testing.T) (*Linux, *fakeRunner, string) {
	t.Helper()
	dir := t.TempDir()
	d := NewLinux(config.RadioConfig{
		Driver:              "linux",
		StationInterface:    "wlan0",
		APInterface:         "uap0",
		HostapdBinary:       writeScript(t, dir, "hostapd", "echo 'uap0: AP-ENABLED'\nexec sleep 60"),
		WPASupplicantBinary: writeScript(t, dir, "wpa_supplicant", "echo 'wlan0: CTRL-EVENT-CONNECTED - Connection to 11:22:33:44:55:66 completed'\nexec sleep 60"),
		IWBinary:            "/usr/sbin/iw",
		IPBinary:            "/usr/sbin/ip",
		RuntimeDir:          filepath.Join(dir, "run"),
		ScanTimeout:         time.Second,
		ConnectTimeout:      2 * time.Second,
	}, nil)
	fr := &fakeRunner{out: map[string]string{}, err: map[string]error{}}
	d.run = fr.run
	d.macOf = func(iface string) (net.HardwareAddr, error) {
		if iface == "uap0" {
			return nil, ErrInterfaceNotFound
		}
		return net.HardwareAddr{0x24, 0x0a, 0xc4, 0x1a, 0x2b, 0x3c}, nil
	}
	d.addrOf = func(string) (string, error) { return "192.168.1.77", nil }
	t.Cleanup(func() { _ = d.Close() })
	return d, fr, dir
}

func TestLinux_Scan(t *testing.T) {
	d, fr, _ := newTestLinux(t)
	fr.out["iw dev wlan0 scan"] = sampleScan

	nets, err := d.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(nets) != 2 {
		t.Errorf("Scan() returned %d networks, want 2", len(nets))
	}

	fr.err["iw dev wlan0 scan"] = errors.New("exit status 240")
	fr.out["iw dev wlan0 scan"] = "command failed: Device or resource busy (-16)"
	if _, err := d.Scan(context.Background()); !errors.Is(err, ErrScanFailed) {
		t.Errorf("Scan() error = %v, want ErrScanFailed", err)
	}
}

func TestLinux_StartStopAP(t *testing.T) {
	d, fr, dir := newTestLinux(t)
	ctx := context.Background()
	cfg := APConfig{SSID: "provisiond-1A2B3C", Channel: 1, MaxConnections: 4, Address: "192.168.4.1"}

	if err := d.StartAP(ctx, cfg); err != nil {
		t.Fatalf("StartAP() error = %v", err)
	}
	if !d.APActive() {
		t.Fatal("APActive() = false after StartAP")
	}
	if err := d.StartAP(ctx, cfg); err != nil {
		t.Fatalf("second StartAP() error = %v", err)
	}

	fr.mu.Lock()
	calls := strings.Join(fr.calls, "\n")
	fr.mu.Unlock()
	for _, want := range []string{
		"iw dev wlan0 interface add uap0 type __ap",
		"ip addr add 192.168.4.1/24 dev uap0",
		"ip link set uap0 up",
	} {
		if strings.Count(calls, want) != 1 {
			t.Errorf("expected exactly one %q in:\n%s", want, calls)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "run", "hostapd.conf")); err != nil {
		t.Errorf("hostapd.conf not written: %v", err)
	}

	if err := d.StopAP(ctx); err != nil {
		t.Fatalf("StopAP() error = %v", err)
	}
	if d.APActive() {
		t.Error("APActive() = true after StopAP")
	}
	if err := d.StopAP(ctx); err != nil {
		t.Errorf("second StopAP() error = %v", err)
	}
}

func TestLinux_ConnectEmitsEvents(t *testing.T) {
	d, _, _ := newTestLinux(t)
	events := make(chan Event, 8)
	d.SetEventSink(func(ev Event) { events <- ev })

	if err := d.Connect(context.Background(), "HomeNet", "hunter2hunter2"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	want := []EventKind{EventConnected, EventGotIP}
	for _, k := range want {
		select {
		case ev := <-events:
			if ev.Kind != k {
				t.Fatalf("event = %v, want %v", ev.Kind, k)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %v", k)
		}
	}

	link := d.Link()
	if !link.Connected || link.Pending || link.IP != "192.168.1.77" || link.SSID != "HomeNet" {
		t.Errorf("Link() = %+v", link)
	}

	if err := d.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Link().Connected {
		t.Error("Link().Connected = true after Disconnect")
	}
}

func TestLinux_AuthFailureClearsPending(t *testing.T) {
	d, _, _ := newTestLinux(t)
	events := make(chan Event, 4)
	d.SetEventSink(func(ev Event) { events <- ev })

	d.pending.Store(true)
	d.handleEvent(Event{Kind: EventDisconnected, Reason: ReasonAuthFail}, nil)

	ev := <-events
	if !ev.IsAuthFailure() {
		t.Errorf("forwarded event = %+v, want auth failure", ev)
	}
	if d.Link().Pending {
		t.Error("Link().Pending = true after auth failure")
	}
}

func TestLinux_NetworkNotFoundEndsConnect(t *testing.T) {
	d, _, _ := newTestLinux(t)
	events := make(chan Event, 4)
	d.SetEventSink(func(ev Event) { events <- ev })

	ev, ok := parseSupplicantLine("wlan0: CTRL-EVENT-NETWORK-NOT-FOUND")
	if !ok {
		t.Fatal("parseSupplicantLine() ok = false for NETWORK-NOT-FOUND")
	}
	d.pending.Store(true)
	d.handleEvent(ev, nil)

	got := <-events
	if got.Reason != ReasonNoAPFound || !got.IsAuthFailure() {
		t.Errorf("forwarded event = %+v, want reason %d treated as credential failure", got, ReasonNoAPFound)
	}
	if d.Link().Pending {
		t.Error("Link().Pending = true after network not found")
	}
}
