package device

import "errors"

var (
	// ErrWiFiConnectTimeout is recorded when the station has no address
	// within the connect timeout.
	ErrWiFiConnectTimeout = errors.New("device: wifi connect timed out")

	// ErrMQTTConnectTimeout is recorded when the broker session does not come
	// up within the connect wait.
	ErrMQTTConnectTimeout = errors.New("device: mqtt connect timed out")
)
