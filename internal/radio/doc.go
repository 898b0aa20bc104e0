// Package radio abstracts the device's WiFi radio: the provisioning access
// point, network scans and the station link to the user's network.
//
// Two drivers implement Driver:
//
//   - Linux runs hostapd for the AP and wpa_supplicant for the station link
//     under process.Manager, scans with iw and watches the station
//     interface for its DHCP address.
//   - Simulated is an in-process radio used by tests and bench runs.
//
// Link changes are reported as Events to a sink installed with
// SetEventSink. Sinks are called from driver goroutines and must not block.
package radio
