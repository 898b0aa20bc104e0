package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single TCP+TLS+CONNECT attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive applies when the config leaves keepalive unset.
	defaultKeepAlive = 60 * time.Second

	// maxReconnectInterval caps paho's reconnect backoff.
	maxReconnectInterval = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// buildClientOptions creates paho options for an mTLS session.
//
// The initial connect is not retried by paho (the orchestrator owns that
// policy); once connected, paho reconnects on its own after a link loss.
func buildClientOptions(cfg config.MQTTConfig, clientID string, tlsCfg *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(clientID)
	opts.SetTLSConfig(tlsCfg)
	opts.SetCleanSession(true)

	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	return opts
}

// configureLWT makes the broker publish "offline" if the device vanishes.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, qos byte) {
	opts.SetWill(topics.Status(), buildStatusPayload(topics.DeviceID, "offline", "unexpected_disconnect"), qos, true)
}

// buildStatusPayload creates the JSON body of a status message.
func buildStatusPayload(deviceID, status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"device_id":%q,"timestamp":%q}`,
			status, deviceID, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"device_id":%q,"reason":%q,"timestamp":%q}`,
		status, deviceID, reason, time.Now().UTC().Format(time.RFC3339))
}
