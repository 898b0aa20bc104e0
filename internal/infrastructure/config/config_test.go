package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a minimal YAML document that passes validation.
const validConfig = `
device:
  id: "device_0070"
database:
  path: "/tmp/test.db"
radio:
  driver: "simulated"
backend:
  url: "https://backend.example.com"
mqtt:
  broker:
    host: "broker.example.com"
    port: 8883
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "device_0070" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "device_0070")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.example.com")
	}
}

func TestLoad_DefaultsSurviveYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	o := cfg.Orchestrator
	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"LoopInterval", o.LoopInterval, 100 * time.Millisecond},
		{"APPollInterval", o.APPollInterval, 2 * time.Second},
		{"APRetryDelay", o.APRetryDelay, 5 * time.Second},
		{"WiFiSettleDelay", o.WiFiSettleDelay, 2 * time.Second},
		{"WiFiConnectTimeout", o.WiFiConnectTimeout, 30 * time.Second},
		{"InternetRetryBackoff", o.InternetRetryBackoff, 5 * time.Second},
		{"CSRRetryDelay", o.CSRRetryDelay, 5 * time.Second},
		{"MQTTConnectWait", o.MQTTConnectWait, 30 * time.Second},
		{"MQTTRetryBackoff", o.MQTTRetryBackoff, 5 * time.Second},
		{"ErrorIdleDelay", o.ErrorIdleDelay, 10 * time.Second},
		{"Heartbeat.Interval", cfg.Heartbeat.Interval, 30 * time.Second},
		{"NetCheck.Timeout", cfg.NetCheck.Timeout, 15 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if o.InternetRetries != 2 {
		t.Errorf("InternetRetries = %d, want 2", o.InternetRetries)
	}
	if o.MQTTRetries != 3 {
		t.Errorf("MQTTRetries = %d, want 3", o.MQTTRetries)
	}
	if cfg.AP.Channel != 1 || cfg.AP.MaxConnections != 4 || cfg.AP.Port != 80 {
		t.Errorf("AP = channel %d, max %d, port %d, want 1, 4, 80",
			cfg.AP.Channel, cfg.AP.MaxConnections, cfg.AP.Port)
	}
	if cfg.AP.MaxScanResults != 20 {
		t.Errorf("AP.MaxScanResults = %d, want 20", cfg.AP.MaxScanResults)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROVISIOND_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("PROVISIOND_BACKEND_URL", "https://env.example.com")
	t.Setenv("PROVISIOND_DEV_CLEAR_ON_BOOT", "1")
	t.Setenv("PROVISIOND_AP_PASSWORD", "supersecret")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/env.db")
	}
	if cfg.Backend.URL != "https://env.example.com" {
		t.Errorf("Backend.URL = %q, want %q", cfg.Backend.URL, "https://env.example.com")
	}
	if !cfg.Device.DevClearOnBoot {
		t.Error("Device.DevClearOnBoot = false, want true")
	}
	if cfg.AP.Password != "supersecret" {
		t.Errorf("AP.Password = %q, want %q", cfg.AP.Password, "supersecret")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing device id",
			mutate:  func(c *Config) { c.Device.ID = "" },
			wantErr: "device.id",
		},
		{
			name:    "key file without csr file",
			mutate:  func(c *Config) { c.Device.KeyFile = "/etc/key.pem" },
			wantErr: "device.key_file",
		},
		{
			name:    "unknown radio driver",
			mutate:  func(c *Config) { c.Radio.Driver = "esp" },
			wantErr: "radio.driver",
		},
		{
			name:    "short AP password",
			mutate:  func(c *Config) { c.AP.Password = "short" },
			wantErr: "ap.password",
		},
		{
			name:    "relative backend url",
			mutate:  func(c *Config) { c.Backend.URL = "/api" },
			wantErr: "backend.url",
		},
		{
			name:    "missing broker host",
			mutate:  func(c *Config) { c.MQTT.Broker.Host = "" },
			wantErr: "mqtt.broker.host",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero wifi connect timeout",
			mutate:  func(c *Config) { c.Orchestrator.WiFiConnectTimeout = 0 },
			wantErr: "orchestrator.wifi_connect_timeout",
		},
		{
			name:    "zero wifi connect retries",
			mutate:  func(c *Config) { c.Orchestrator.WiFiConnectRetries = 0 },
			wantErr: "orchestrator.wifi_connect_retries",
		},
		{
			name:    "invalid heartbeat format",
			mutate:  func(c *Config) { c.Heartbeat.Format = "xml" },
			wantErr: "heartbeat.format",
		},
		{
			name: "influx enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
			},
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Radio.Driver = "simulated"
			cfg.Backend.URL = "https://backend.example.com"
			cfg.MQTT.Broker.Host = "broker.example.com"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMQTTConfig_BrokerURL(t *testing.T) {
	cfg := MQTTConfig{Broker: MQTTBrokerConfig{Host: "broker.local", Port: 8883}}
	if got := cfg.BrokerURL(); got != "ssl://broker.local:8883" {
		t.Errorf("BrokerURL() = %q, want %q", got, "ssl://broker.local:8883")
	}
}

func TestAPConfig_Timeouts(t *testing.T) {
	ap := Default().AP
	if ap.GetReadTimeout() != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", ap.GetReadTimeout())
	}
	if ap.GetWriteTimeout() != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", ap.GetWriteTimeout())
	}
}

// TestLoad_ShippedConfig keeps configs/config.yaml loadable.
func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestrator.MQTTConnectWait != 30*time.Second {
		t.Errorf("MQTTConnectWait = %v, want 30s", cfg.Orchestrator.MQTTConnectWait)
	}
	if cfg.AP.MaxScanResults != 20 {
		t.Errorf("MaxScanResults = %d, want 20", cfg.AP.MaxScanResults)
	}
	if cfg.Heartbeat.Interval != 30*time.Second {
		t.Errorf("Heartbeat.Interval = %v, want 30s", cfg.Heartbeat.Interval)
	}
}
