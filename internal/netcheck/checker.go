// Package netcheck checks internet reachability after the station link
// comes up.
//
// The check is a single HTTPS GET; HTTP 200 means the device can reach the
// internet. Certificate validation may be relaxed for this check only: the
// relaxed transport belongs to the Checker and is never shared.
package netcheck

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

var (
	// ErrTransport indicates the check did not complete.
	ErrTransport = errors.New("netcheck: transport error")

	// ErrUnexpectedStatus indicates the check completed with a non-200 status.
	ErrUnexpectedStatus = errors.New("netcheck: unexpected status")
)

const (
	defaultTimeout = 15 * time.Second

	// drainLimit is how much of the body is read so the connection can be
	// reused.
	drainLimit = 4 << 10
)

// Checker performs the reachability check.
type Checker struct {
	url  string
	http *http.Client
}

// New creates a Checker with its own HTTP client.
func New(cfg config.NetCheckConfig) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // Connectivity check only; no data is trusted
			MinVersion:         tls.VersionTLS12,
		}
	}

	return &Checker{
		url: cfg.URL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Check issues the request.
//
// Returns:
//   - error: nil on HTTP 200, ErrTransport or ErrUnexpectedStatus otherwise
func (c *Checker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	//nolint:errcheck // Draining for connection reuse
	io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
