package identity

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return string(b)
}

func TestLoad_Embedded(t *testing.T) {
	id, err := Load(config.DeviceConfig{ID: "device_0070"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if id.DeviceID() != "device_0070" {
		t.Errorf("DeviceID() = %q", id.DeviceID())
	}
	if id.CSR() == "" {
		t.Error("CSR() is empty")
	}
}

func TestLoad_OverrideFiles(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")
	csrPath := filepath.Join(dir, "csr.pem")
	if err := os.WriteFile(keyPath, embeddedKey, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(csrPath, embeddedCSR, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(config.DeviceConfig{ID: "d", KeyFile: keyPath, CSRFile: csrPath}); err != nil {
		t.Fatalf("Load() with override files error = %v", err)
	}

	if _, err := Load(config.DeviceConfig{ID: "d", KeyFile: filepath.Join(dir, "missing.pem")}); err == nil {
		t.Error("Load() with missing key file error = nil")
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		key     []byte
		csr     []byte
		wantErr error
	}{
		{"bad key", "d", []byte("not pem"), embeddedCSR, ErrInvalidKey},
		{"csr as key", "d", embeddedCSR, embeddedCSR, ErrInvalidKey},
		{"bad csr", "d", embeddedKey, []byte("not pem"), ErrInvalidCSR},
		{"key as csr", "d", embeddedKey, embeddedKey, ErrInvalidCSR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.id, tt.key, tt.csr)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := New("", embeddedKey, embeddedCSR); err == nil {
		t.Error("New() with empty device id error = nil")
	}
}

func TestTLSConfig(t *testing.T) {
	id, err := New("device_0070", embeddedKey, embeddedCSR)
	if err != nil {
		t.Fatal(err)
	}
	deviceCert := readTestdata(t, "device_cert.pem")
	caCert := readTestdata(t, "ca.pem")

	cfg, err := id.TLSConfig(deviceCert, caCert)
	if err != nil {
		t.Fatalf("TLSConfig() error = %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs is nil")
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}

	t.Run("certificate does not match key", func(t *testing.T) {
		// The CA certificate was not issued for the device key.
		if _, err := id.TLSConfig(caCert, caCert); !errors.Is(err, ErrInvalidCertificate) {
			t.Errorf("TLSConfig() error = %v, want ErrInvalidCertificate", err)
		}
	})

	t.Run("unusable CA", func(t *testing.T) {
		if _, err := id.TLSConfig(deviceCert, "garbage"); !errors.Is(err, ErrInvalidCertificate) {
			t.Errorf("TLSConfig() error = %v, want ErrInvalidCertificate", err)
		}
	})
}
