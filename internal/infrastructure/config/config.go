package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for provisiond.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	Database     DatabaseConfig     `yaml:"database"`
	Radio        RadioConfig        `yaml:"radio"`
	AP           APConfig           `yaml:"ap"`
	Backend      BackendConfig      `yaml:"backend"`
	NetCheck     NetCheckConfig     `yaml:"netcheck"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DeviceConfig describes the fixed device identity.
type DeviceConfig struct {
	// ID is the device identifier baked into the image. Default: "device_0070".
	ID string `yaml:"id"`

	// KeyFile and CSRFile override the embedded private key and CSR.
	// Both must be set together.
	KeyFile string `yaml:"key_file,omitempty"`
	CSRFile string `yaml:"csr_file,omitempty"`

	// DevClearOnBoot erases provisioning and certificates before the state
	// machine starts. Development only.
	DevClearOnBoot bool `yaml:"dev_clear_on_boot"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RadioConfig selects and configures the WiFi radio driver.
type RadioConfig struct {
	// Driver is "linux" (hostapd + wpa_supplicant) or "simulated".
	Driver string `yaml:"driver"`

	// StationInterface is the client-mode interface (e.g. wlan0).
	StationInterface string `yaml:"station_interface"`

	// APInterface is the virtual AP interface created alongside the station
	// interface so scans keep working while the AP is up (e.g. uap0).
	APInterface string `yaml:"ap_interface"`

	HostapdBinary       string `yaml:"hostapd_binary"`
	WPASupplicantBinary string `yaml:"wpa_supplicant_binary"`
	IWBinary            string `yaml:"iw_binary"`
	IPBinary            string `yaml:"ip_binary"`

	// RuntimeDir holds generated hostapd/wpa_supplicant config files.
	RuntimeDir string `yaml:"runtime_dir"`

	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// APConfig contains the local provisioning access point settings.
type APConfig struct {
	SSIDPrefix     string           `yaml:"ssid_prefix"`
	Password       string           `yaml:"password"`
	Channel        int              `yaml:"channel"`
	MaxConnections int              `yaml:"max_connections"`
	Address        string           `yaml:"address"`
	Port           int              `yaml:"port"`
	Timeouts       APITimeoutConfig `yaml:"timeouts"`
	MaxScanResults int              `yaml:"max_scan_results"`
	ScanLockWait   time.Duration    `yaml:"scan_lock_wait"`
	MDNS           MDNSConfig       `yaml:"mdns"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MDNSConfig controls DNS-SD advertisement of the provisioning endpoint.
type MDNSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
}

// BackendConfig points at the certificate-signing backend.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// NetCheckConfig configures the internet reachability check.
type NetCheckConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// InsecureSkipVerify relaxes certificate validation for the reachability check only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig `yaml:"broker"`
	QoS       int              `yaml:"qos"`
	KeepAlive time.Duration    `yaml:"keepalive"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ClientID defaults to the device ID when empty.
	ClientID string `yaml:"client_id"`
}

// OrchestratorConfig holds the state machine timings. The defaults are the
// production values; tests shrink them.
type OrchestratorConfig struct {
	LoopInterval         time.Duration `yaml:"loop_interval"`
	APPollInterval       time.Duration `yaml:"ap_poll_interval"`
	APRetryDelay         time.Duration `yaml:"ap_retry_delay"`
	WiFiSettleDelay      time.Duration `yaml:"wifi_settle_delay"`
	// WiFiConnectTimeout bounds one station connect, from issue to address.
	// After WiFiConnectRetries timeouts the record is cleared.
	WiFiConnectTimeout   time.Duration `yaml:"wifi_connect_timeout"`
	WiFiConnectRetries   int           `yaml:"wifi_connect_retries"`
	InternetRetries      int           `yaml:"internet_retries"`
	InternetRetryBackoff time.Duration `yaml:"internet_retry_backoff"`
	CSRRetryDelay        time.Duration `yaml:"csr_retry_delay"`
	MQTTConnectWait      time.Duration `yaml:"mqtt_connect_wait"`
	MQTTRetries          int           `yaml:"mqtt_retries"`
	MQTTRetryBackoff     time.Duration `yaml:"mqtt_retry_backoff"`
	ErrorIdleDelay       time.Duration `yaml:"error_idle_delay"`
	EventQueueSize       int           `yaml:"event_queue_size"`
}

// HeartbeatConfig controls the periodic MQTT_CONNECTED heartbeat.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	Publish  bool          `yaml:"publish"`

	// Format is "json" or "cbor".
	Format string `yaml:"format"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PROVISIOND_SECTION_KEY
// For example: PROVISIOND_DATABASE_PATH, PROVISIOND_BACKEND_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the production defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID: "device_0070",
		},
		Database: DatabaseConfig{
			Path:        "/var/lib/provisiond/credentials.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Radio: RadioConfig{
			Driver:              "linux",
			StationInterface:    "wlan0",
			APInterface:         "uap0",
			HostapdBinary:       "/usr/sbin/hostapd",
			WPASupplicantBinary: "/usr/sbin/wpa_supplicant",
			IWBinary:            "/usr/sbin/iw",
			IPBinary:            "/usr/sbin/ip",
			RuntimeDir:          "/run/provisiond",
			ScanTimeout:         10 * time.Second,
			ConnectTimeout:      30 * time.Second,
		},
		AP: APConfig{
			SSIDPrefix:     "provisiond-",
			Channel:        1,
			MaxConnections: 4,
			Address:        "192.168.4.1",
			Port:           80,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxScanResults: 20,
			ScanLockWait:   time.Second,
			MDNS: MDNSConfig{
				Enabled: true,
				Service: "_provisiond._tcp",
				Domain:  "local.",
			},
		},
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		NetCheck: NetCheckConfig{
			URL:                "https://www.google.com/",
			Timeout:            15 * time.Second,
			InsecureSkipVerify: true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 8883,
			},
			QoS:       1,
			KeepAlive: 60 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			LoopInterval:         100 * time.Millisecond,
			APPollInterval:       2 * time.Second,
			APRetryDelay:         5 * time.Second,
			WiFiSettleDelay:      2 * time.Second,
			WiFiConnectTimeout:   30 * time.Second,
			WiFiConnectRetries:   2,
			InternetRetries:      2,
			InternetRetryBackoff: 5 * time.Second,
			CSRRetryDelay:        5 * time.Second,
			MQTTConnectWait:      30 * time.Second,
			MQTTRetries:          3,
			MQTTRetryBackoff:     5 * time.Second,
			ErrorIdleDelay:       10 * time.Second,
			EventQueueSize:       32,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
			Format:   "json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PROVISIOND_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PROVISIOND_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("PROVISIOND_DEV_CLEAR_ON_BOOT"); v != "" {
		cfg.Device.DevClearOnBoot = v == "1" || strings.EqualFold(v, "true")
	}

	if v := os.Getenv("PROVISIOND_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PROVISIOND_RADIO_DRIVER"); v != "" {
		cfg.Radio.Driver = v
	}

	// The AP passphrase is a secret; keep it out of the YAML where possible.
	if v := os.Getenv("PROVISIOND_AP_PASSWORD"); v != "" {
		cfg.AP.Password = v
	}

	if v := os.Getenv("PROVISIOND_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}

	if v := os.Getenv("PROVISIOND_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}

	if v := os.Getenv("PROVISIOND_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if (c.Device.KeyFile == "") != (c.Device.CSRFile == "") {
		errs = append(errs, "device.key_file and device.csr_file must be set together")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Radio.Driver {
	case "linux":
		if c.Radio.StationInterface == "" {
			errs = append(errs, "radio.station_interface is required for the linux driver")
		}
	case "simulated":
	default:
		errs = append(errs, "radio.driver must be linux or simulated")
	}

	if c.AP.Channel < 1 || c.AP.Channel > 13 {
		errs = append(errs, "ap.channel must be between 1 and 13")
	}
	if c.AP.MaxConnections < 1 {
		errs = append(errs, "ap.max_connections must be at least 1")
	}
	if c.AP.Port < 1 || c.AP.Port > 65535 {
		errs = append(errs, "ap.port must be between 1 and 65535")
	}
	// WPA2 passphrases are 8..63 characters; empty means an open AP.
	if n := len(c.AP.Password); n > 0 && (n < 8 || n > 63) {
		errs = append(errs, "ap.password must be empty or 8-63 characters")
	}

	if c.Backend.URL == "" {
		errs = append(errs, "backend.url is required (set PROVISIOND_BACKEND_URL)")
	} else if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "backend.url must be an absolute URL")
	}

	if c.NetCheck.URL == "" {
		errs = append(errs, "netcheck.url is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required (set PROVISIOND_MQTT_HOST)")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Orchestrator.MQTTRetries < 1 {
		errs = append(errs, "orchestrator.mqtt_retries must be at least 1")
	}
	if c.Orchestrator.WiFiConnectTimeout <= 0 {
		errs = append(errs, "orchestrator.wifi_connect_timeout must be positive")
	}
	if c.Orchestrator.WiFiConnectRetries < 1 {
		errs = append(errs, "orchestrator.wifi_connect_retries must be at least 1")
	}
	if c.Orchestrator.InternetRetries < 1 {
		errs = append(errs, "orchestrator.internet_retries must be at least 1")
	}

	switch c.Heartbeat.Format {
	case "json", "cbor":
	default:
		errs = append(errs, "heartbeat.format must be json or cbor")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerURL returns the mTLS broker URL in paho form.
func (c MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("ssl://%s:%d", c.Broker.Host, c.Broker.Port)
}

// GetReadTimeout returns the AP HTTP read timeout as a Duration.
func (c APConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the AP HTTP write timeout as a Duration.
func (c APConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the AP HTTP idle timeout as a Duration.
func (c APConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
