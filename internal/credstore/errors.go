package credstore

import "errors"

// Domain errors for the credential store.
//
//	if errors.Is(err, credstore.ErrNotFound) {
//	    // treat as absent
//	}
var (
	// ErrNotFound is returned when a key or record is absent.
	ErrNotFound = errors.New("credstore: not found")

	// ErrStorage wraps failures of the underlying durable storage.
	ErrStorage = errors.New("credstore: storage error")

	// ErrIncompleteRecord is returned when saving a provisioning record with
	// a missing required field.
	ErrIncompleteRecord = errors.New("credstore: incomplete provisioning record")

	// ErrIncompletePair is returned when saving a certificate pair with an
	// empty half.
	ErrIncompletePair = errors.New("credstore: incomplete certificate pair")

	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("credstore: invalid key")
)
