package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

const (
	pingTimeout = 10 * time.Second

	// Lifecycle events are rare; small batches keep them timely.
	defaultBatchSize     = 20
	defaultFlushInterval = 10 * time.Second
)

// Client is the PointWriter the Recorder uses in production. Points are
// batched by the library and sent in the background; a point written
// after Close is dropped.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	// mu guards open against Close. WritePoint holds the read side so a
	// point is never queued on a closed write API.
	mu      sync.RWMutex
	open    bool
	onError func(err error)
}

// Connect pings the server and opens a batching write API on the
// configured org and bucket. The caller decides whether telemetry is
// enabled.
//
// Parameters:
//   - ctx: Bounds the initial ping, together with a 10s cap
//   - cfg: InfluxDB section of the configuration
//
// Returns:
//   - *Client: Ready to accept points
//   - error: ErrConnectionFailed if the server is unreachable or unhealthy
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	// #nosec G115 -- both positive, checked above
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	switch {
	case err != nil:
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	case !healthy:
		client.Close()
		return nil, fmt.Errorf("%w: %s: server not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		open:     true,
	}
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

// WritePoint queues a point for the next batch.
func (c *Client) WritePoint(point *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return
	}
	c.writeAPI.WritePoint(point)
}

// SetOnError installs the callback for failed batch writes. Batches are
// sent in the background, so this is the only place those errors surface.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// Close sends the pending batch and shuts the client down. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()
	if !wasOpen {
		return nil
	}

	// Not under mu: a failing flush reports through forwardErrors.
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
