// provisiond - WiFi provisioning and enrolment daemon
//
// provisiond takes a headless device from first boot to an authenticated
// MQTT session:
//   - raises a local access point so a phone app can submit WiFi credentials
//   - joins the WiFi network and verifies internet access
//   - exchanges the device CSR for a certificate with the backend
//   - connects to the broker over mutual TLS and publishes heartbeats
//
// Any credential failure sends the device back to provisioning mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	_ "github.com/nerrad567/provisiond/migrations"

	"github.com/nerrad567/provisiond/internal/certexchange"
	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/device"
	"github.com/nerrad567/provisiond/internal/identity"
	"github.com/nerrad567/provisiond/internal/infrastructure/config"
	"github.com/nerrad567/provisiond/internal/infrastructure/database"
	"github.com/nerrad567/provisiond/internal/infrastructure/influxdb"
	"github.com/nerrad567/provisiond/internal/infrastructure/logging"
	"github.com/nerrad567/provisiond/internal/infrastructure/mqtt"
	"github.com/nerrad567/provisiond/internal/netcheck"
	"github.com/nerrad567/provisiond/internal/provisioning"
	"github.com/nerrad567/provisiond/internal/radio"
	"github.com/nerrad567/provisiond/internal/scancache"
	"github.com/nerrad567/provisiond/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "provisiond",
		Usage:   "WiFi provisioning and certificate enrolment daemon",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				EnvVars: []string{"PROVISIOND_CONFIG"},
				Usage:   "path to the YAML configuration file",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the daemon (default)",
				Action: runAction,
			},
			{
				Name:  "reset",
				Usage: "return a running daemon to CHECK_PROVISIONING",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "clear",
						Usage: "erase the provisioning record first, forcing AP mode",
					},
					&cli.BoolFlag{
						Name:  "certs",
						Usage: "also erase the device certificates",
					},
				},
				Action: resetAction,
			},
			{
				Name:   "status",
				Usage:  "print the stored provisioning state",
				Action: statusAction,
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(cCtx *cli.Context) error {
					fmt.Fprintf(cCtx.App.Writer, "provisiond %s (commit %s, built %s)\n", version, commit, date)
					return nil
				},
			},
		},
	}
}

func runAction(cCtx *cli.Context) error {
	// Cancel on Ctrl+C and SIGTERM; SIGHUP is handled as a reset.
	ctx, cancel := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return run(ctx, cCtx.String("config"))
}

// run wires every component from the configuration and runs the state
// machine until ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting provisiond",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "device_id", cfg.Device.ID)

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	ident, err := identity.Load(cfg.Device)
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}

	drv := newRadio(cfg, log)
	defer func() {
		if closeErr := drv.Close(); closeErr != nil {
			log.Error("error closing radio", "error", closeErr)
		}
	}()
	log.Info("radio ready", "driver", cfg.Radio.Driver)

	prov, err := provisioning.New(provisioning.Deps{
		Config:   cfg.AP,
		DeviceID: ident.DeviceID(),
		Radio:    drv,
		Store:    store,
		Cache: scancache.New(scancache.Options{
			MaxEntries: cfg.AP.MaxScanResults,
			ReadWait:   cfg.AP.ScanLockWait,
			WriteWait:  cfg.AP.ScanLockWait,
		}),
		Logger:        log.With("component", "provisioning"),
		MDNSInterface: cfg.Radio.APInterface,
	})
	if err != nil {
		return fmt.Errorf("creating provisioning service: %w", err)
	}

	mqttClient := mqtt.New(cfg.MQTT, ident.DeviceID(), store, ident, log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected", "broker", cfg.MQTT.BrokerURL())
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	beacon := telemetry.NewBeacon(ident.DeviceID())

	deps := device.Deps{
		Config:         cfg.Orchestrator,
		Heartbeat:      cfg.Heartbeat,
		DevClearOnBoot: cfg.Device.DevClearOnBoot,
		Store:          store,
		Radio:          drv,
		Provisioning:   prov,
		Certs:          certexchange.New(cfg.Backend, ident, store, log.With("component", "certexchange")),
		NetCheck:       netcheck.New(cfg.NetCheck),
		MQTT:           mqttClient,
		Beacon:         beacon,
		HeartbeatTopic: mqtt.Topics{DeviceID: ident.DeviceID()}.Heartbeat(),
		Logger:         log,
	}

	// InfluxDB is optional; the device must come up without it.
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, lifecycle telemetry disabled", "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			deps.Recorder = influxdb.NewRecorder(influxClient, ident.DeviceID(), beacon.BootID())
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	orch, err := device.New(deps)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	pidPath, err := writePIDFile(cfg.Radio.RuntimeDir)
	if err != nil {
		log.Warn("could not write pid file, reset command unavailable", "error", err)
	} else {
		defer os.Remove(pidPath) //nolint:errcheck // Best-effort cleanup
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Info("SIGHUP received, resetting state machine")
				orch.Reset()
			}
		}
	}()

	log.Info("initialisation complete", "boot_id", beacon.BootID())
	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	log.Info("provisiond stopped")
	return nil
}

// openStore opens and migrates the credential database.
func openStore(ctx context.Context, cfg *config.Config) (*database.DB, *credstore.Store, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, credstore.New(credstore.NewSQLiteKV(db)), nil
}

// newRadio builds the configured driver. Validate has already rejected
// unknown driver names.
func newRadio(cfg *config.Config, log *logging.Logger) radio.Driver {
	if cfg.Radio.Driver == "simulated" {
		log.Warn("using the simulated radio; no real network will be joined")
		return radio.NewSimulated(radio.SimulatedOptions{})
	}
	return radio.NewLinux(cfg.Radio, log.With("component", "radio"))
}

func resetAction(cCtx *cli.Context) error {
	ctx := cCtx.Context
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	out := cCtx.App.Writer

	cleared := false
	if cCtx.Bool("clear") || cCtx.Bool("certs") {
		db, store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // Read-mostly handle

		if cCtx.Bool("clear") {
			if err := store.ClearProvisioning(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "provisioning record cleared")
		}
		if cCtx.Bool("certs") {
			if err := store.ClearCertificates(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "certificates cleared")
		}
		cleared = true
	}

	pid, err := signalDaemon(cfg.Radio.RuntimeDir, syscall.SIGHUP)
	if errors.Is(err, errDaemonNotRunning) && cleared {
		fmt.Fprintln(out, "daemon not running; changes apply on next start")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "reset sent to provisiond (pid %d)\n", pid)
	return nil
}

func statusAction(cCtx *cli.Context) error {
	ctx := cCtx.Context
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-only use

	return printStatus(ctx, cCtx.App.Writer, cfg, store)
}
