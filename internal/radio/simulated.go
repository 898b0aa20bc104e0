package radio

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/provisiond/internal/scancache"
)

// SimulatedOptions configures a Simulated radio.
type SimulatedOptions struct {
	// Networks are returned by Scan.
	Networks []scancache.Network
	// Credentials maps SSID to the password the simulated AP accepts.
	Credentials map[string]string
	// ConnectDelay is the time between Connect and the resulting event.
	// Zero delivers the event synchronously from Connect.
	ConnectDelay time.Duration
	// StationIP is reported in EventGotIP after a successful connect.
	StationIP string
	MAC       net.HardwareAddr
}

// Simulated is an in-process radio. Its exported error fields let tests
// inject failures.
type Simulated struct {
	mu   sync.Mutex
	opts SimulatedOptions
	sink func(Event)

	apActive bool
	apConfig APConfig
	link     Link

	startAPCalls int
	scanCalls    int
	connectCalls int
	lastSSID     string

	// StartAPErr is returned by the next StartAP calls when set.
	StartAPErr error
	// ScanErr is returned by Scan when set.
	ScanErr error
}

// NewSimulated creates a simulated radio.
func NewSimulated(opts SimulatedOptions) *Simulated {
	if opts.StationIP == "" {
		opts.StationIP = "192.168.1.50"
	}
	if opts.MAC == nil {
		opts.MAC = net.HardwareAddr{0x02, 0x00, 0x00, 0xa1, 0xb2, 0xc3}
	}
	return &Simulated{opts: opts}
}

// StartAP implements Driver.
func (s *Simulated) StartAP(_ context.Context, cfg APConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartAPErr != nil {
		return s.StartAPErr
	}
	if s.apActive {
		return nil
	}
	s.startAPCalls++
	s.apActive = true
	s.apConfig = cfg
	return nil
}

// StopAP implements Driver.
func (s *Simulated) StopAP(context.Context) error {
	s.mu.Lock()
	s.apActive = false
	s.mu.Unlock()
	return nil
}

// APActive implements Driver.
func (s *Simulated) APActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apActive
}

// APConfig returns the configuration of the last StartAP.
func (s *Simulated) APConfig() APConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apConfig
}

// Scan implements Driver.
func (s *Simulated) Scan(ctx context.Context) ([]scancache.Network, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanCalls++
	if s.ScanErr != nil {
		return nil, s.ScanErr
	}
	out := make([]scancache.Network, len(s.opts.Networks))
	copy(out, s.opts.Networks)
	return out, nil
}

// Connect implements Driver. The outcome is decided by Credentials: a
// matching password connects and assigns StationIP, a wrong password fails
// with ReasonAuthFail and an unknown SSID with ReasonNoAPFound.
func (s *Simulated) Connect(_ context.Context, ssid, password string) error {
	s.mu.Lock()
	s.connectCalls++
	s.lastSSID = ssid
	s.link = Link{SSID: ssid, Pending: true}
	want, known := s.opts.Credentials[ssid]
	delay := s.opts.ConnectDelay
	s.mu.Unlock()

	deliver := func() {
		switch {
		case !known:
			s.linkDown(ReasonNoAPFound)
		case want != password:
			s.linkDown(ReasonAuthFail)
		default:
			s.linkUp()
		}
	}
	if delay <= 0 {
		deliver()
		return nil
	}
	time.AfterFunc(delay, deliver)
	return nil
}

func (s *Simulated) linkUp() {
	s.mu.Lock()
	if !s.link.Pending {
		s.mu.Unlock()
		return
	}
	s.link.Pending = false
	s.link.Connected = true
	s.link.IP = s.opts.StationIP
	ip := s.link.IP
	s.mu.Unlock()

	s.emit(Event{Kind: EventConnected})
	s.emit(Event{Kind: EventGotIP, IP: ip})
}

func (s *Simulated) linkDown(reason int) {
	s.mu.Lock()
	s.link.Pending = false
	s.link.Connected = false
	s.link.IP = ""
	s.mu.Unlock()

	s.emit(Event{Kind: EventDisconnected, Reason: reason})
}

// DropLink simulates the AP going away with the given reason.
func (s *Simulated) DropLink(reason int) {
	s.linkDown(reason)
}

// Disconnect implements Driver.
func (s *Simulated) Disconnect(context.Context) error {
	s.mu.Lock()
	wasUp := s.link.Connected || s.link.Pending
	s.link = Link{}
	s.mu.Unlock()
	if wasUp {
		s.emit(Event{Kind: EventDisconnected, Reason: ReasonLeaving})
	}
	return nil
}

// Link implements Driver.
func (s *Simulated) Link() Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// MAC implements Driver.
func (s *Simulated) MAC() (net.HardwareAddr, error) {
	return s.opts.MAC, nil
}

// SetEventSink implements Driver.
func (s *Simulated) SetEventSink(sink func(Event)) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Emit delivers an arbitrary event to the sink.
func (s *Simulated) Emit(ev Event) {
	s.emit(ev)
}

func (s *Simulated) emit(ev Event) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// Close implements Driver.
func (s *Simulated) Close() error {
	s.mu.Lock()
	s.apActive = false
	s.link = Link{}
	s.mu.Unlock()
	return nil
}

// Calls returns how many times StartAP, Scan and Connect did work.
func (s *Simulated) Calls() (startAP, scan, connect int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAPCalls, s.scanCalls, s.connectCalls
}

// LastConnectSSID returns the SSID of the last Connect.
func (s *Simulated) LastConnectSSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSSID
}
