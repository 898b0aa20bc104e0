// Package credstore persists the provisioning record and the device
// certificate pair across power cycles.
//
// The store sits on a small key/value namespace (see KV). Two backends are
// provided: SQLiteKV over the credential database and MemoryKV for the
// simulated radio profile and tests.
//
// A device counts as provisioned only when the flag and all four required
// fields are stored together; certificates count as present only when both
// the device certificate and the CA certificate are stored. Both records are
// written in a single transaction, so an interrupted write can never leave
// one half behind.
package credstore
