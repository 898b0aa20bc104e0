package device

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/infrastructure/config"
	"github.com/nerrad567/provisiond/internal/infrastructure/logging"
	"github.com/nerrad567/provisiond/internal/provisioning"
	"github.com/nerrad567/provisiond/internal/radio"
	"github.com/nerrad567/provisiond/internal/telemetry"
)

const (
	defaultLoopInterval   = 100 * time.Millisecond
	defaultEventQueueSize = 32

	defaultHeartbeatInterval  = 30 * time.Second
	defaultWiFiConnectTimeout = 30 * time.Second
)

// CredentialStore is the part of the credential store the orchestrator uses.
type CredentialStore interface {
	IsProvisioned(ctx context.Context) (bool, error)
	LoadProvisioning(ctx context.Context) (credstore.ProvisioningRecord, error)
	ClearProvisioning(ctx context.Context) error
	HasCertificates(ctx context.Context) (bool, error)
	ClearCertificates(ctx context.Context) error
}

// Provisioner is the AP provisioning service.
type Provisioner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsActive() bool

	// HandoffPending is true while an accepted provision request is about
	// to issue its own station connect.
	HandoffPending() bool

	// Announce pushes a progress event to the provisioning app.
	Announce(eventType string, payload any)
}

// CertificateExchanger obtains and stores the device certificate.
type CertificateExchanger interface {
	SubmitCSR(ctx context.Context, deviceID, token string) (credstore.CertificatePair, error)
}

// ReachabilityChecker verifies general internet access.
type ReachabilityChecker interface {
	Check(ctx context.Context) error
}

// Messenger is the mTLS broker session.
type Messenger interface {
	Start(ctx context.Context) error
	Stop()
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Recorder receives lifecycle telemetry. Implementations must not block.
type Recorder interface {
	RecordTransition(from, to string, dwell time.Duration)
	RecordRetry(state string, attempt int, cause string)
	RecordHeartbeat(seq uint64, uptime time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(string, string, time.Duration) {}
func (noopRecorder) RecordRetry(string, int, string)                {}
func (noopRecorder) RecordHeartbeat(uint64, time.Duration)          {}

// Deps holds the collaborators of the orchestrator.
type Deps struct {
	Config    config.OrchestratorConfig
	Heartbeat config.HeartbeatConfig

	// DevClearOnBoot erases the provisioning record and the certificates
	// when Run starts.
	DevClearOnBoot bool

	Store        CredentialStore
	Radio        radio.Driver
	Provisioning Provisioner
	Certs        CertificateExchanger
	NetCheck     ReachabilityChecker
	MQTT         Messenger

	// Beacon numbers the heartbeats. Encoder is only needed when
	// Heartbeat.Publish is set; nil picks Heartbeat.Format.
	Beacon         *telemetry.Beacon
	Encoder        *telemetry.Encoder
	HeartbeatTopic string

	// Recorder is optional.
	Recorder Recorder
	Logger   *logging.Logger
}

// Orchestrator is the device lifecycle state machine.
//
// Step and Run must be called from a single goroutine. Notify, Events,
// Reset and State are safe for concurrent use.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	hbCfg    config.HeartbeatConfig
	devClear bool

	store    CredentialStore
	radio    radio.Driver
	prov     Provisioner
	certs    CertificateExchanger
	netcheck ReachabilityChecker
	mqtt     Messenger
	beacon   *telemetry.Beacon
	encoder  *telemetry.Encoder
	hbTopic  string
	recorder Recorder
	logger   *logging.Logger

	state  atomic.Int32
	events chan radio.Event
	wake   chan struct{}

	authFailed     atomic.Bool
	resetRequested atomic.Bool

	// Station address from the last EventGotIP, written only while
	// draining events.
	ip string

	// Per-entry bookkeeping, reset by enter.
	enteredAt     time.Time
	waitUntil     time.Time
	attempts        int
	connectIssued   bool
	connectDeferred bool
	connectDeadline time.Time
	settled         bool
	mqttStarted     bool
	mqttDeadline    time.Time
	nextHeartbeat   time.Time

	// now is replaced in tests.
	now func() time.Time
}

// New creates an orchestrator in INIT.
//
// Returns:
//   - *Orchestrator: Ready to Run
//   - error: If a collaborator is missing or the heartbeat format is unknown
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("credential store is required")
	case deps.Radio == nil:
		return nil, fmt.Errorf("radio is required")
	case deps.Provisioning == nil:
		return nil, fmt.Errorf("provisioning service is required")
	case deps.Certs == nil:
		return nil, fmt.Errorf("certificate exchange client is required")
	case deps.NetCheck == nil:
		return nil, fmt.Errorf("reachability checker is required")
	case deps.MQTT == nil:
		return nil, fmt.Errorf("mqtt client is required")
	case deps.Beacon == nil:
		return nil, fmt.Errorf("heartbeat beacon is required")
	case deps.Heartbeat.Publish && deps.HeartbeatTopic == "":
		return nil, fmt.Errorf("heartbeat topic is required when publishing")
	}

	if deps.Encoder == nil {
		enc, err := telemetry.NewEncoder(deps.Heartbeat.Format)
		if err != nil {
			return nil, fmt.Errorf("heartbeat encoder: %w", err)
		}
		deps.Encoder = enc
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}

	cfg := deps.Config
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = defaultLoopInterval
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = defaultEventQueueSize
	}
	if cfg.MQTTRetries < 1 {
		cfg.MQTTRetries = 1
	}
	if cfg.WiFiConnectTimeout <= 0 {
		cfg.WiFiConnectTimeout = defaultWiFiConnectTimeout
	}
	if cfg.WiFiConnectRetries < 1 {
		cfg.WiFiConnectRetries = 1
	}
	hbCfg := deps.Heartbeat
	if hbCfg.Interval <= 0 {
		hbCfg.Interval = defaultHeartbeatInterval
	}

	o := &Orchestrator{
		cfg:      cfg,
		hbCfg:    hbCfg,
		devClear: deps.DevClearOnBoot,
		store:    deps.Store,
		radio:    deps.Radio,
		prov:     deps.Provisioning,
		certs:    deps.Certs,
		netcheck: deps.NetCheck,
		mqtt:     deps.MQTT,
		beacon:   deps.Beacon,
		encoder:  deps.Encoder,
		hbTopic:  deps.HeartbeatTopic,
		recorder: deps.Recorder,
		logger:   deps.Logger.With("component", "orchestrator"),
		events:   make(chan radio.Event, cfg.EventQueueSize),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
	o.state.Store(int32(StateInit))
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Events returns the queue the radio feeds. Events beyond its capacity are
// dropped; use Notify to keep auth failures from being lost.
func (o *Orchestrator) Events() chan<- radio.Event {
	return o.events
}

// Notify queues a radio event without blocking. Auth failures are latched
// separately so a full queue cannot swallow them.
func (o *Orchestrator) Notify(ev radio.Event) {
	if ev.IsAuthFailure() {
		o.authFailed.Store(true)
	}
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("radio event queue full, dropping event", "event", ev.Kind.String())
	}
	o.poke()
}

// Reset returns the orchestrator to CHECK_PROVISIONING on its next Step.
// It is the only way out of ERROR.
func (o *Orchestrator) Reset() {
	o.resetRequested.Store(true)
	o.poke()
}

func (o *Orchestrator) poke() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run installs the radio event sink and steps the machine until ctx is
// cancelled, then stops the broker session and the provisioning service.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.radio.SetEventSink(o.Notify)
	defer o.radio.SetEventSink(nil)

	if o.devClear {
		o.clearOnBoot(ctx)
	}

	o.logger.Info("orchestrator started", "state", o.State().String())

	ticker := time.NewTicker(o.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		o.Step(ctx)

		select {
		case <-ctx.Done():
			o.shutdown()
			o.logger.Info("orchestrator stopped", "state", o.State().String())
			return nil
		case <-ticker.C:
		case <-o.wake:
		}
	}
}

func (o *Orchestrator) clearOnBoot(ctx context.Context) {
	o.logger.Warn("development mode: clearing provisioning record and certificates")
	if err := o.store.ClearProvisioning(ctx); err != nil {
		o.logger.Error("clearing provisioning record", "error", err)
	}
	if err := o.store.ClearCertificates(ctx); err != nil {
		o.logger.Error("clearing certificates", "error", err)
	}
}

func (o *Orchestrator) shutdown() {
	o.mqtt.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.prov.Stop(ctx); err != nil {
		o.logger.Warn("stopping provisioning service", "error", err)
	}
}

// Step runs one loop iteration: drain the radio events, apply an auth
// failure or reset if one is pending, then act on the current state unless
// it is still waiting.
func (o *Orchestrator) Step(ctx context.Context) {
	o.drainEvents()

	if o.authFailed.Swap(false) {
		o.handleAuthFailure(ctx)
		return
	}
	if o.resetRequested.Swap(false) {
		o.logger.Info("reset requested", "state", o.State().String())
		o.mqtt.Stop()
		o.enter(StateCheckProvisioning)
		return
	}

	if o.now().Before(o.waitUntil) {
		return
	}

	switch o.State() {
	case StateInit:
		o.enter(StateCheckProvisioning)
	case StateCheckProvisioning:
		o.stepCheckProvisioning(ctx)
	case StateAPMode:
		o.stepAPMode(ctx)
	case StateWiFiConnecting:
		o.stepWiFiConnecting(ctx)
	case StateWiFiConnected:
		o.stepWiFiConnected(ctx)
	case StateCheckCertificates:
		o.stepCheckCertificates(ctx)
	case StateSubmitCSR:
		o.stepSubmitCSR(ctx)
	case StateMQTTConnecting:
		o.stepMQTTConnecting(ctx)
	case StateMQTTConnected:
		o.stepMQTTConnected()
	case StateError:
		o.wait(o.cfg.ErrorIdleDelay)
	}
}

func (o *Orchestrator) drainEvents() {
	for {
		select {
		case ev := <-o.events:
			o.applyEvent(ev)
		default:
			return
		}
	}
}

// applyEvent only updates the link address; transitions happen in the
// states.
func (o *Orchestrator) applyEvent(ev radio.Event) {
	switch ev.Kind {
	case radio.EventGotIP:
		o.ip = ev.IP
	case radio.EventDisconnected:
		o.ip = ""
		if ev.IsAuthFailure() {
			o.authFailed.Store(true)
		}
	}
	o.logger.Debug("radio event", "event", ev.Kind.String(), "reason", ev.Reason)
}

// handleAuthFailure overrides the current state: the credentials are bad,
// so the record goes and provisioning starts over.
func (o *Orchestrator) handleAuthFailure(ctx context.Context) {
	o.logger.Warn("wifi authentication failed, clearing provisioning record", "state", o.State().String())
	o.recorder.RecordRetry(o.State().String(), 1, "wifi_auth_failed")

	o.mqtt.Stop()
	if err := o.store.ClearProvisioning(ctx); err != nil {
		o.logger.Error("clearing provisioning record", "error", err)
	}
	o.enter(StateAPMode)
}

// enter moves to a state and resets the per-entry bookkeeping.
func (o *Orchestrator) enter(next State) {
	now := o.now()
	prev := o.State()
	dwell := now.Sub(o.enteredAt)
	if o.enteredAt.IsZero() {
		dwell = 0
	}

	o.state.Store(int32(next))
	o.enteredAt = now
	o.waitUntil = time.Time{}
	o.attempts = 0
	o.connectIssued = false
	o.connectDeferred = false
	o.connectDeadline = time.Time{}
	o.settled = false
	o.mqttStarted = false
	o.mqttDeadline = time.Time{}
	o.nextHeartbeat = time.Time{}
	if next == StateWiFiConnecting {
		// An address from an earlier link must not complete this connect.
		o.ip = ""
	}

	o.logger.Info("state transition", "from", prev.String(), "to", next.String(), "dwell", dwell)
	o.recorder.RecordTransition(prev.String(), next.String(), dwell)
	o.prov.Announce(provisioning.EventStateChanged, map[string]any{
		"from": prev.String(),
		"to":   next.String(),
	})
}

// wait defers the next state action by d.
func (o *Orchestrator) wait(d time.Duration) {
	o.waitUntil = o.now().Add(d)
}

// retry counts a failed attempt in the current state.
func (o *Orchestrator) retry(cause error) int {
	o.attempts++
	o.recorder.RecordRetry(o.State().String(), o.attempts, cause.Error())
	return o.attempts
}
