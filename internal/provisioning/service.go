package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/infrastructure/config"
	"github.com/nerrad567/provisiond/internal/infrastructure/logging"
	"github.com/nerrad567/provisiond/internal/radio"
	"github.com/nerrad567/provisiond/internal/scancache"
)

const (
	// gracefulShutdownTimeout bounds in-flight requests during Stop.
	gracefulShutdownTimeout = 5 * time.Second

	// defaultHandoffDelay lets the acknowledgement reach the app before the
	// AP goes away.
	defaultHandoffDelay = 500 * time.Millisecond

	// scanTimeout bounds a synchronous scan made for a request.
	scanTimeout = 10 * time.Second
)

// CredentialWriter persists a provisioning record.
type CredentialWriter interface {
	SaveProvisioning(ctx context.Context, rec credstore.ProvisioningRecord) error
}

// Deps holds the dependencies of the service.
type Deps struct {
	Config   config.APConfig
	DeviceID string
	Radio    radio.Driver
	Store    CredentialWriter
	Cache    *scancache.Cache
	Logger   *logging.Logger

	// MDNSInterface restricts the mDNS advertisement to one interface
	// (usually the AP interface). Empty advertises on all interfaces.
	MDNSInterface string

	// HandoffDelay overrides the pause between acknowledging a provision
	// request and stopping the service. Zero uses 500ms.
	HandoffDelay time.Duration
}

// Service is the AP provisioning service. Start and Stop are idempotent.
type Service struct {
	cfg      config.APConfig
	deviceID string
	radio    radio.Driver
	store    CredentialWriter
	cache    *scancache.Cache
	logger   *logging.Logger
	delay    time.Duration
	mdnsIf   string

	hub     *Hub
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	mdns     advertiser
	active   atomic.Bool
	handoffs atomic.Int32

	// newAdvertiser is replaced in tests.
	newAdvertiser func(iface string) advertiser
}

// New creates a stopped service.
//
// Returns:
//   - *Service: Ready to Start
//   - error: If a required dependency is missing
func New(deps Deps) (*Service, error) {
	if deps.Radio == nil {
		return nil, fmt.Errorf("radio is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("scan cache is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.HandoffDelay <= 0 {
		deps.HandoffDelay = defaultHandoffDelay
	}

	s := &Service{
		cfg:           deps.Config,
		deviceID:      deps.DeviceID,
		radio:         deps.Radio,
		store:         deps.Store,
		cache:         deps.Cache,
		logger:        deps.Logger,
		delay:         deps.HandoffDelay,
		mdnsIf:        deps.MDNSInterface,
		hub:           NewHub(deps.Logger),
		newAdvertiser: newMDNSAdvertiser,
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Start raises the access point, fills the scan cache once and opens the
// HTTP endpoints. Starting an active service is a no-op.
//
// Returns:
//   - error: ErrRadioInit if the AP cannot be started, ErrServerStart if the
//     listener cannot be opened (the AP is left up for the caller to retry)
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.Load() {
		return nil
	}

	mac, err := s.radio.MAC()
	if err != nil {
		s.logger.Warn("radio MAC unavailable, naming AP after device id", "error", err)
	}
	ssid := radio.APSSID(s.cfg.SSIDPrefix, mac, s.deviceID)

	if err := s.radio.StartAP(ctx, radio.APConfig{
		SSID:           ssid,
		Password:       s.cfg.Password,
		Channel:        s.cfg.Channel,
		MaxConnections: s.cfg.MaxConnections,
		Address:        s.cfg.Address,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrRadioInit, err)
	}

	// Populate before any client can ask.
	s.refreshCache(ctx)

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServerStart, err)
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("provisioning server error", "error", err)
		}
	}()
	s.server = server
	s.addr = ln.Addr()

	if s.cfg.MDNS.Enabled {
		adv := s.newAdvertiser(s.mdnsIf)
		port := ln.Addr().(*net.TCPAddr).Port
		if err := adv.Advertise(ssid, s.cfg.MDNS.Service, s.cfg.MDNS.Domain, port, s.txtRecords()); err != nil {
			s.logger.Warn("mdns advertisement failed", "error", err)
		} else {
			s.mdns = adv
		}
	}

	s.active.Store(true)
	s.logger.Info("provisioning service started", "ssid", ssid, "address", s.addr.String())
	s.hub.Broadcast(EventServiceStarted, map[string]any{"ssid": ssid})
	return nil
}

// Stop closes the HTTP endpoints, withdraws the mDNS record and invalidates
// the scan cache. The access point itself is left to the caller. Stopping a
// stopped service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active.Load() {
		return nil
	}
	s.active.Store(false)

	s.hub.Broadcast(EventServiceStopped, nil)
	s.hub.CloseAll()

	if s.mdns != nil {
		s.mdns.Shutdown()
		s.mdns = nil
	}

	var errs []error
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, gracefulShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down provisioning server: %w", err))
		}
		s.server = nil
		s.addr = nil
	}

	if err := s.cache.Invalidate(ctx); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("provisioning service stopped")
	return errors.Join(errs...)
}

// IsActive reports whether the HTTP endpoints are open.
func (s *Service) IsActive() bool {
	return s.active.Load()
}

// HandoffPending is true between an accepted provision request and the
// station connect it triggers.
func (s *Service) HandoffPending() bool {
	return s.handoffs.Load() > 0
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Hub returns the event stream hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Announce pushes a progress event to connected app clients.
func (s *Service) Announce(eventType string, payload any) {
	s.hub.Broadcast(eventType, payload)
}

// refreshCache scans outside the cache lock and stores the result. Failures
// are logged; the cache keeps its previous content.
func (s *Service) refreshCache(ctx context.Context) bool {
	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	nets, err := s.radio.Scan(scanCtx)
	if err != nil {
		s.logger.Warn("wifi scan failed", "error", err)
		return false
	}
	if err := s.cache.Replace(ctx, nets); err != nil {
		s.logger.Warn("scan cache update failed", "error", err)
		return false
	}
	s.logger.Debug("scan cache refreshed", "networks", len(nets))
	return true
}

// handoff finishes an accepted provision request: stop the service, bring
// the AP down and connect the station.
func (s *Service) handoff(ssid, password string) {
	s.handoffs.Inc()
	time.AfterFunc(s.delay, func() {
		defer s.handoffs.Dec()

		ctx := context.Background()
		if err := s.Stop(ctx); err != nil {
			s.logger.Warn("stopping provisioning service", "error", err)
		}
		if err := s.radio.StopAP(ctx); err != nil {
			s.logger.Warn("stopping access point", "error", err)
		}
		if err := s.radio.Connect(ctx, ssid, password); err != nil {
			s.logger.Error("station connect failed", "ssid", ssid, "error", err)
			return
		}
		s.logger.Info("station connect issued", "ssid", ssid)
	})
}

func (s *Service) txtRecords() []string {
	return []string{
		"device_id=" + s.deviceID,
		"provision=/provision",
		"scan=/local-wifi",
	}
}
