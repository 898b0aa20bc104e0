package radio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/nerrad567/provisiond/internal/infrastructure/config"
	"github.com/nerrad567/provisiond/internal/process"
	"github.com/nerrad567/provisiond/internal/scancache"
)

const (
	apReadyTimeout = 10 * time.Second
	ipPollInterval = 500 * time.Millisecond
)

// hostapd exits with these lines when its configuration cannot work.
var hostapdFatal = []string{
	"interface initialization failed",
	"Could not select hw_mode and channel",
	"Failed to set beacon parameters",
	"Line ",
}

// Logger is the logging interface of the Linux driver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// commandRunner runs a short-lived command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput() //nolint:gosec // Binaries come from validated config
}

// Linux drives a real radio with hostapd, wpa_supplicant, iw and ip.
type Linux struct {
	cfg    config.RadioConfig
	logger Logger
	run    commandRunner
	addrOf func(iface string) (string, error)
	macOf  func(iface string) (net.HardwareAddr, error)

	mu         sync.Mutex
	hostapd    *process.Manager
	supplicant *process.Manager
	ipCancel   context.CancelFunc
	sink       func(Event)

	apActive  atomic.Bool
	connected atomic.Bool
	pending   atomic.Bool
	ssid      atomic.String
	ip        atomic.String
}

// NewLinux creates a driver for the interfaces in cfg.
func NewLinux(cfg config.RadioConfig, logger Logger) *Linux {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Linux{
		cfg:    cfg,
		logger: logger,
		run:    execRunner,
		addrOf: interfaceIPv4,
		macOf:  interfaceMAC,
	}
}

// StartAP implements Driver.
func (d *Linux) StartAP(ctx context.Context, cfg APConfig) error {
	if d.apActive.Load() {
		return nil
	}

	ap, sta := d.cfg.APInterface, d.cfg.StationInterface
	if _, err := d.macOf(ap); err != nil {
		if out, err := d.run(ctx, d.cfg.IWBinary, "dev", sta, "interface", "add", ap, "type", "__ap"); err != nil {
			return fmt.Errorf("creating %s: %w: %s", ap, err, strings.TrimSpace(string(out)))
		}
	}
	steps := [][]string{
		{"addr", "flush", "dev", ap},
		{"addr", "add", cfg.Address + "/24", "dev", ap},
		{"link", "set", ap, "up"},
	}
	for _, args := range steps {
		if out, err := d.run(ctx, d.cfg.IPBinary, args...); err != nil {
			return fmt.Errorf("ip %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		}
	}

	confPath := filepath.Join(d.cfg.RuntimeDir, "hostapd.conf")
	conf := renderHostapdConf(ap, filepath.Join(d.cfg.RuntimeDir, "hostapd"), cfg)
	if err := writePrivate(confPath, conf); err != nil {
		return err
	}

	ready := make(chan struct{})
	var once sync.Once
	mgr := process.NewManager(process.Config{
		Name:               "hostapd",
		Binary:             d.cfg.HostapdBinary,
		Args:               []string{confPath},
		RestartOnFailure:   true,
		MaxRestartAttempts: 5,
		FatalPatterns:      hostapdFatal,
		OnLine: func(_, line string) {
			if strings.Contains(line, "AP-ENABLED") {
				once.Do(func() { close(ready) })
			}
		},
	})
	mgr.SetLogger(d.logger)

	// The manager outlives the caller's request context.
	if err := mgr.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting hostapd: %w", err)
	}

	timer := time.NewTimer(apReadyTimeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
		_ = mgr.Stop()
		return fmt.Errorf("hostapd did not enable the AP within %v: %v", apReadyTimeout, mgr.LastError())
	case <-ctx.Done():
		_ = mgr.Stop()
		return ctx.Err()
	}

	d.mu.Lock()
	d.hostapd = mgr
	d.mu.Unlock()
	d.apActive.Store(true)

	d.logger.Info("access point enabled", "interface", ap, "ssid", cfg.SSID, "channel", cfg.Channel)
	return nil
}

// StopAP implements Driver.
func (d *Linux) StopAP(ctx context.Context) error {
	d.mu.Lock()
	mgr := d.hostapd
	d.hostapd = nil
	d.mu.Unlock()
	d.apActive.Store(false)

	if mgr == nil {
		return nil
	}
	if err := mgr.Stop(); err != nil {
		return fmt.Errorf("stopping hostapd: %w", err)
	}
	if out, err := d.run(ctx, d.cfg.IWBinary, "dev", d.cfg.APInterface, "del"); err != nil {
		d.logger.Warn("removing AP interface failed", "interface", d.cfg.APInterface, "error", err, "output", string(out))
	}
	return nil
}

// APActive implements Driver.
func (d *Linux) APActive() bool {
	return d.apActive.Load()
}

// Scan implements Driver.
func (d *Linux) Scan(ctx context.Context) ([]scancache.Network, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ScanTimeout)
	defer cancel()

	out, err := d.run(ctx, d.cfg.IWBinary, "dev", d.cfg.StationInterface, "scan")
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s", ErrScanFailed, err, strings.TrimSpace(string(out)))
	}
	return parseScan(string(out)), nil
}

// Connect implements Driver. It replaces any running wpa_supplicant with
// one configured for the given network and returns once it is started.
func (d *Linux) Connect(ctx context.Context, ssid, password string) error {
	conf, err := renderSupplicantConf(filepath.Join(d.cfg.RuntimeDir, "wpa_supplicant"), ssid, password)
	if err != nil {
		return err
	}
	confPath := filepath.Join(d.cfg.RuntimeDir, "wpa_supplicant.conf")
	if err := writePrivate(confPath, conf); err != nil {
		return err
	}

	d.stopSupplicant()
	d.ssid.Store(ssid)
	d.connected.Store(false)
	d.ip.Store("")
	d.pending.Store(true)

	var mgr *process.Manager
	mgr = process.NewManager(process.Config{
		Name:               "wpa_supplicant",
		Binary:             d.cfg.WPASupplicantBinary,
		Args:               []string{"-i", d.cfg.StationInterface, "-c", confPath, "-D", "nl80211"},
		RestartOnFailure:   true,
		MaxRestartAttempts: 5,
		OnLine: func(_, line string) {
			if ev, ok := parseSupplicantLine(line); ok {
				d.handleEvent(ev, mgr)
			}
		},
	})
	mgr.SetLogger(d.logger)

	d.mu.Lock()
	d.supplicant = mgr
	d.mu.Unlock()

	if err := mgr.Start(context.WithoutCancel(ctx)); err != nil {
		d.mu.Lock()
		if d.supplicant == mgr {
			d.supplicant = nil
		}
		d.mu.Unlock()
		d.pending.Store(false)
		return fmt.Errorf("starting wpa_supplicant: %w", err)
	}

	d.logger.Info("station connect issued", "interface", d.cfg.StationInterface, "ssid", ssid)
	return nil
}

// handleEvent updates link flags and forwards the event. It runs on the
// supplicant's output goroutine and never blocks on I/O.
func (d *Linux) handleEvent(ev Event, owner *process.Manager) {
	switch ev.Kind {
	case EventConnected:
		d.connected.Store(true)
		d.pending.Store(false)
		d.watchIP()
	case EventDisconnected:
		d.connected.Store(false)
		d.ip.Store("")
		d.cancelIPWatch()
		if ev.IsAuthFailure() {
			// Retrying the same credentials is pointless.
			d.pending.Store(false)
			go d.stopSupplicantIf(owner)
		}
	}
	d.emit(ev)
}

func (d *Linux) watchIP() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ConnectTimeout)
	d.mu.Lock()
	if d.ipCancel != nil {
		d.ipCancel()
	}
	d.ipCancel = cancel
	d.mu.Unlock()

	go func() {
		defer cancel()
		ticker := time.NewTicker(ipPollInterval)
		defer ticker.Stop()
		for {
			if ip, err := d.addrOf(d.cfg.StationInterface); err == nil && ip != "" {
				d.ip.Store(ip)
				d.emit(Event{Kind: EventGotIP, IP: ip})
				return
			}
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					d.logger.Warn("no address on station interface", "interface", d.cfg.StationInterface)
				}
				return
			case <-ticker.C:
			}
		}
	}()
}

func (d *Linux) cancelIPWatch() {
	d.mu.Lock()
	if d.ipCancel != nil {
		d.ipCancel()
		d.ipCancel = nil
	}
	d.mu.Unlock()
}

func (d *Linux) stopSupplicant() {
	d.stopSupplicantIf(nil)
}

// stopSupplicantIf stops the running supplicant, or only the given one when
// owner is non-nil.
func (d *Linux) stopSupplicantIf(owner *process.Manager) {
	d.mu.Lock()
	mgr := d.supplicant
	if owner != nil && mgr != owner {
		d.mu.Unlock()
		return
	}
	d.supplicant = nil
	d.mu.Unlock()
	if mgr != nil {
		if err := mgr.Stop(); err != nil {
			d.logger.Warn("stopping wpa_supplicant failed", "error", err)
		}
	}
}

// Disconnect implements Driver.
func (d *Linux) Disconnect(context.Context) error {
	d.cancelIPWatch()
	d.stopSupplicant()
	d.connected.Store(false)
	d.pending.Store(false)
	d.ip.Store("")
	return nil
}

// Link implements Driver.
func (d *Linux) Link() Link {
	return Link{
		SSID:      d.ssid.Load(),
		Connected: d.connected.Load(),
		Pending:   d.pending.Load(),
		IP:        d.ip.Load(),
	}
}

// MAC implements Driver.
func (d *Linux) MAC() (net.HardwareAddr, error) {
	return d.macOf(d.cfg.StationInterface)
}

// SetEventSink implements Driver.
func (d *Linux) SetEventSink(sink func(Event)) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
}

func (d *Linux) emit(ev Event) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// Close implements Driver.
func (d *Linux) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := d.StopAP(ctx)
	return errors.Join(err, d.Disconnect(ctx))
}

func writePrivate(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func interfaceMAC(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInterfaceNotFound, name, err)
	}
	return iface.HardwareAddr, nil
}

func interfaceIPv4(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInterfaceNotFound, name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if v4 := ipn.IP.To4(); v4 != nil && !v4.IsLinkLocalUnicast() {
				return v4.String(), nil
			}
		}
	}
	return "", nil
}
