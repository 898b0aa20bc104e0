package certexchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

const (
	// signPath is appended to the backend URL.
	signPath = "/api/v1/sign-csr"

	// maxResponseSize bounds the response body; two PEM certificates are a
	// few KiB.
	maxResponseSize = 64 << 10

	defaultTimeout = 30 * time.Second
)

// CSRSource supplies the PEM certificate signing request.
type CSRSource interface {
	CSR() string
}

// CertificateSaver persists the issued pair in one write.
type CertificateSaver interface {
	SaveCertificates(ctx context.Context, pair credstore.CertificatePair) error
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// signRequest is the body of the sign-csr call.
type signRequest struct {
	DeviceID          string `json:"device_id"`
	CSR               string `json:"csr"`
	ProvisioningToken string `json:"provisioning_token"`
}

type pemContent struct {
	Content string `json:"content"`
}

// signResponse is the part of the backend answer the device uses.
type signResponse struct {
	Certificate   *pemContent `json:"certificate"`
	CACertificate *pemContent `json:"ca_certificate"`
}

// Client is the certificate exchange client. It is safe for concurrent use,
// though the orchestrator only ever has one call in flight.
type Client struct {
	url    string
	http   *http.Client
	csr    CSRSource
	store  CertificateSaver
	logger Logger
}

// New creates a client for the configured backend.
//
// Parameters:
//   - cfg: Backend base URL and request timeout
//   - csr: The device CSR
//   - store: Where the issued pair is written
//   - logger: Optional; nil disables logging
func New(cfg config.BackendConfig, csr CSRSource, store CertificateSaver, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		url:    strings.TrimRight(cfg.URL, "/") + signPath,
		http:   &http.Client{Timeout: timeout},
		csr:    csr,
		store:  store,
		logger: logger,
	}
}

// SubmitCSR exchanges the CSR for a certificate pair and stores it.
//
// Parameters:
//   - ctx: Cancels the request
//   - deviceID: Identifier registered with the backend
//   - token: Provisioning token captured by the provisioning service
//
// Returns:
//   - credstore.CertificatePair: The stored pair
//   - error: ErrCsrExchangeFailed wrapping the cause; storage is untouched on failure
func (c *Client) SubmitCSR(ctx context.Context, deviceID, token string) (credstore.CertificatePair, error) {
	pair, err := c.exchange(ctx, deviceID, token)
	if err != nil {
		return credstore.CertificatePair{}, fmt.Errorf("%w: %w", ErrCsrExchangeFailed, err)
	}

	if err := c.store.SaveCertificates(ctx, pair); err != nil {
		return credstore.CertificatePair{}, fmt.Errorf("%w: saving certificates: %w", ErrCsrExchangeFailed, err)
	}

	c.logger.Info("device certificate issued", "device_id", deviceID)
	return pair, nil
}

func (c *Client) exchange(ctx context.Context, deviceID, token string) (credstore.CertificatePair, error) {
	body, err := json.Marshal(signRequest{
		DeviceID:          deviceID,
		CSR:               c.csr.CSR(),
		ProvisioningToken: token,
	})
	if err != nil {
		return credstore.CertificatePair{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return credstore.CertificatePair{}, fmt.Errorf("%w: building request: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("submitting csr", "url", c.url, "device_id", deviceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return credstore.CertificatePair{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return credstore.CertificatePair{}, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Warn("csr rejected", "status", resp.StatusCode, "body", truncate(string(raw), 200))
		return credstore.CertificatePair{}, fmt.Errorf("%w: status %d", ErrProtocol, resp.StatusCode)
	}

	var parsed signResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return credstore.CertificatePair{}, fmt.Errorf("%w: decoding response: %w", ErrProtocol, err)
	}
	if parsed.Certificate == nil || parsed.Certificate.Content == "" {
		return credstore.CertificatePair{}, fmt.Errorf("%w: certificate.content missing", ErrProtocol)
	}
	if parsed.CACertificate == nil || parsed.CACertificate.Content == "" {
		return credstore.CertificatePair{}, fmt.Errorf("%w: ca_certificate.content missing", ErrProtocol)
	}

	return credstore.CertificatePair{
		DeviceCert: parsed.Certificate.Content,
		CACert:     parsed.CACertificate.Content,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
