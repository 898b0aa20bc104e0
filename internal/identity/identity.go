package identity

import (
	"crypto/tls"
	"crypto/x509"
	_ "embed"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

//go:embed device_key.pem
var embeddedKey []byte

//go:embed device_csr.pem
var embeddedCSR []byte

var (
	// ErrInvalidKey is returned when the private key cannot be parsed.
	ErrInvalidKey = errors.New("identity: invalid private key")

	// ErrInvalidCSR is returned when the CSR cannot be parsed or its
	// signature does not verify.
	ErrInvalidCSR = errors.New("identity: invalid certificate request")

	// ErrInvalidCertificate is returned when the issued certificate or CA
	// cannot be used with the device key.
	ErrInvalidCertificate = errors.New("identity: invalid certificate")
)

// Identity is the immutable device credential set.
type Identity struct {
	deviceID string
	keyPEM   []byte
	csrPEM   []byte
}

// Load returns the device identity described by cfg.
//
// Parameters:
//   - cfg: Device section of the configuration
//
// Returns:
//   - *Identity: Validated identity
//   - error: If an override file cannot be read or the material does not parse
func Load(cfg config.DeviceConfig) (*Identity, error) {
	keyPEM, csrPEM := embeddedKey, embeddedCSR

	if cfg.KeyFile != "" {
		b, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		keyPEM = b
	}
	if cfg.CSRFile != "" {
		b, err := os.ReadFile(cfg.CSRFile)
		if err != nil {
			return nil, fmt.Errorf("reading csr file: %w", err)
		}
		csrPEM = b
	}

	return New(cfg.ID, keyPEM, csrPEM)
}

// New validates the given PEM material and returns an Identity.
func New(deviceID string, keyPEM, csrPEM []byte) (*Identity, error) {
	if deviceID == "" {
		return nil, errors.New("identity: device id is required")
	}
	if _, err := parsePrivateKey(keyPEM); err != nil {
		return nil, err
	}

	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("%w: no CERTIFICATE REQUEST block", ErrInvalidCSR)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCSR, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCSR, err)
	}

	return &Identity{deviceID: deviceID, keyPEM: keyPEM, csrPEM: csrPEM}, nil
}

// DeviceID returns the configured identifier.
func (i *Identity) DeviceID() string {
	return i.deviceID
}

// CSR returns the certificate signing request as PEM text.
func (i *Identity) CSR() string {
	return string(i.csrPEM)
}

// TLSConfig builds the client configuration for the broker connection.
//
// The device certificate must match the device key. The CA certificate is the
// only root trusted for the broker.
func (i *Identity) TLSConfig(deviceCertPEM, caCertPEM string) (*tls.Config, error) {
	cert, err := tls.X509KeyPair([]byte(deviceCertPEM), i.keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(caCertPEM)) {
		return nil, fmt.Errorf("%w: no usable CA certificate", ErrInvalidCertificate)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func parsePrivateKey(keyPEM []byte) (any, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		return k, nil
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		return k, nil
	default:
		return nil, fmt.Errorf("%w: unsupported PEM type %q", ErrInvalidKey, block.Type)
	}
}
