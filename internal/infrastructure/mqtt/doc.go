// Package mqtt is the device's mutual-TLS messaging client.
//
// Start loads the backend-issued certificate pair from the credential store,
// combines it with the fixed device key and begins connecting to the broker.
// It does not wait for the handshake: the caller polls IsConnected, which
// reflects the latest connection event reported by paho.
//
// # Connection lifecycle
//
//	Start ──► connecting ──► connected ◄──► connection lost (auto-reconnect)
//	  ▲                                            │
//	  └────────────────── Stop ◄───────────────────┘
//
// Start fails fast with ErrCertificatesNotFound when the pair is absent.
// Publish and Subscribe fail with ErrNotConnected while disconnected; the
// caller decides whether to retry. Subscriptions are restored after a
// reconnect.
//
// The broker sees a retained status message on devices/<id>/status: "online"
// after each connect, "offline" on Stop, and the same "offline" via the
// Last Will when the link dies.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, deviceID, store, ident, logger)
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Stop()
//
//	for !client.IsConnected() {
//	    time.Sleep(time.Second)
//	}
//	err := client.Publish(mqtt.Topics{DeviceID: deviceID}.Heartbeat(), payload, 1, false)
package mqtt
