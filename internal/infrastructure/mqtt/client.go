package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/atomic"

	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

// CertificateSource supplies the backend-issued certificate pair.
type CertificateSource interface {
	LoadCertificates(ctx context.Context) (credstore.CertificatePair, error)
}

// TLSProvider turns the pair into a client TLS configuration using the
// device's private key.
type TLSProvider interface {
	TLSConfig(deviceCertPEM, caCertPEM string) (*tls.Config, error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
// Handlers run on paho goroutines and should not block.
type MessageHandler func(topic string, payload []byte) error

// Client is the mTLS messaging client. All methods are safe for concurrent
// use; Start and Stop may be called any number of times.
type Client struct {
	cfg    config.MQTTConfig
	topics Topics
	certs  CertificateSource
	tlsp   TLSProvider
	logger Logger

	// newClient is replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu     sync.Mutex
	client pahomqtt.Client

	connected atomic.Bool
	// gen identifies the current session; handlers of a stopped session
	// are ignored.
	gen atomic.Uint64

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex
}

// New creates a stopped client.
//
// Parameters:
//   - cfg: Broker address, QoS and keepalive
//   - deviceID: Used for the client ID (unless configured) and topics
//   - certs: Where the certificate pair is read from on every Start
//   - tlsp: Builds the TLS configuration from the pair and the device key
//   - logger: Optional; nil disables logging
func New(cfg config.MQTTConfig, deviceID string, certs CertificateSource, tlsp TLSProvider, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		cfg:           cfg,
		topics:        Topics{DeviceID: deviceID},
		certs:         certs,
		tlsp:          tlsp,
		logger:        logger,
		newClient:     pahomqtt.NewClient,
		subscriptions: make(map[string]subscription),
	}
}

// Start begins connecting to the broker and returns without waiting for the
// handshake. Starting a started client is a no-op.
//
// Returns:
//   - error: ErrCertificatesNotFound when the pair is absent or unreadable,
//     ErrConnectionFailed when the TLS material cannot be used
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	client, err := c.setup(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.client = client
	c.connected.Store(false)
	c.mu.Unlock()

	// Connect outside the lock; the connect handler reads c.client.
	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Warn("mqtt connect failed", "broker", c.cfg.BrokerURL(), "error", err)
		}
	}()

	c.logger.Info("mqtt connecting", "broker", c.cfg.BrokerURL())
	return nil
}

// setup loads the TLS material and builds the paho client.
func (c *Client) setup(ctx context.Context) (pahomqtt.Client, error) {
	pair, err := c.certs.LoadCertificates(ctx)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, ErrCertificatesNotFound
		}
		// Read failures count as absent.
		return nil, fmt.Errorf("%w: %w", ErrCertificatesNotFound, err)
	}

	tlsCfg, err := c.tlsp.TLSConfig(pair.DeviceCert, pair.CACert)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	clientID := c.cfg.Broker.ClientID
	if clientID == "" {
		clientID = c.topics.DeviceID
	}

	opts := buildClientOptions(c.cfg, clientID, tlsCfg)
	configureLWT(opts, c.topics, c.qos())
	gen := c.gen.Inc()
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if c.gen.Load() == gen {
			c.handleConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if c.gen.Load() == gen {
			c.handleDisconnect(err)
		}
	})

	return c.newClient(opts), nil
}

// Stop publishes a graceful offline status when connected and tears the
// session down. Stopping a stopped client is a no-op.
func (c *Client) Stop() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.gen.Inc()
	c.mu.Unlock()

	if client == nil {
		return
	}

	if c.connected.Load() {
		token := client.Publish(c.topics.Status(), c.qos(), true,
			buildStatusPayload(c.topics.DeviceID, "offline", "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	c.logger.Info("mqtt stopped")
}

// handleConnect is called by paho on every (re)connect.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()

	if client := c.current(); client != nil {
		client.Publish(c.topics.Status(), c.qos(), true, buildStatusPayload(c.topics.DeviceID, "online", ""))
	}
	c.logger.Info("mqtt connected", "broker", c.cfg.BrokerURL())

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called by paho when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.logger.Warn("mqtt connection lost", "error", err)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	client := c.current()
	if client == nil {
		return
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

func (c *Client) current() pahomqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Client) qos() byte {
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return 1
	}
	return byte(c.cfg.QoS)
}

// IsConnected reflects the latest connection event, not a live check.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetOnConnect sets a callback invoked on every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
