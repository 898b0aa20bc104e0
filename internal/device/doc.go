// Package device drives a provisiond device from boot to steady-state
// messaging.
//
// The Orchestrator owns the lifecycle state machine:
//
//	INIT
//	  │
//	  ▼
//	CHECK_PROVISIONING ──not provisioned──▶ AP_MODE ◀──────────────┐
//	  │ provisioned                           │ record saved       │
//	  ▼                                       ▼                    │
//	WIFI_CONNECTING ◀─────────────────────────┘                    │
//	  │ station has an address   no address after 2 connects, ─────┤
//	  │                          record cleared                    │
//	  ▼                                                            │
//	WIFI_CONNECTED ──internet check failed 2 times, record cleared─┤
//	  │                                                            │
//	  ▼                                                            │
//	CHECK_CERTIFICATES ──none──▶ SUBMIT_CSR (retries every 5s)     │
//	  │                            │                               │
//	  ▼                            ▼                               │
//	MQTT_CONNECTING ◀──────────────┘                               │
//	  │         ▲   3 failed attempts ──▶ ERROR (until Reset)      │
//	  ▼         │ connection lost                                  │
//	MQTT_CONNECTED                                                 │
//	                                                               │
//	WiFi auth failure in any state: clear record ──────────────────┘
//
// Radio events reach the orchestrator through a bounded queue and are
// drained at the start of every Step, so all transitions run on the
// orchestrator's goroutine. Retry counters belong to a single state entry
// and reset whenever a state is entered.
//
// Waits are deadlines, not sleeps: a Step in a waiting state returns at
// once, which keeps Run responsive to events and lets tests drive the
// machine with a fake clock.
package device
