package device

import "fmt"

// State is the application state held by the Orchestrator. It is never
// persisted; every boot recomputes it from the credential store.
type State int32

const (
	StateInit State = iota
	StateCheckProvisioning
	StateAPMode
	StateWiFiConnecting
	StateWiFiConnected
	StateCheckCertificates
	StateSubmitCSR
	StateMQTTConnecting
	StateMQTTConnected
	StateError
)

var stateNames = map[State]string{
	StateInit:              "INIT",
	StateCheckProvisioning: "CHECK_PROVISIONING",
	StateAPMode:            "AP_MODE",
	StateWiFiConnecting:    "WIFI_CONNECTING",
	StateWiFiConnected:     "WIFI_CONNECTED",
	StateCheckCertificates: "CHECK_CERTIFICATES",
	StateSubmitCSR:         "SUBMIT_CSR",
	StateMQTTConnecting:    "MQTT_CONNECTING",
	StateMQTTConnected:     "MQTT_CONNECTED",
	StateError:             "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int32(s))
}
