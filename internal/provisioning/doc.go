// Package provisioning implements the local access point provisioning
// service.
//
// While the device has no usable WiFi credentials it raises an access point
// and serves a small HTTP API to the companion app:
//
//	GET  /local-wifi?refresh=true   networks seen by the radio
//	POST /provision                 store credentials and hand over to the station
//	GET  /status                    current connection phase
//	GET  /events                    WebSocket stream of provisioning progress
//
// The endpoint is also advertised over mDNS so the app can find it without
// a hard-coded address.
//
// A successful POST /provision writes the whole record to the credential
// store, acknowledges the request, then stops the service, brings the AP
// down and issues a station connect with the received credentials. The
// orchestrator sees the handover through HandoffPending and Link and does
// not issue a second connect.
//
// Thread Safety: All methods are safe for concurrent use.
package provisioning
