package credstore

import (
	"context"
	"errors"
	"fmt"
)

// KV is the durable key/value namespace the Store is built on.
//
// Apply must be atomic: after it returns, a reader sees either all of the
// sets and erases or none of them. GetMany must read from a single snapshot.
type KV interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// GetMany returns the present keys among the requested ones.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)

	// Apply writes sets and removes erases in one transaction.
	Apply(ctx context.Context, sets map[string]string, erases []string) error
}

// Store keeps the provisioning record and the certificate pair.
//
// Each logical record is written through a single KV.Apply, so readers never
// observe a half-written record. Read failures surface as errors; callers
// that follow the fail-open policy treat them as "absent".
type Store struct {
	kv KV
}

// New creates a Store over the given namespace.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// Get returns a raw value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	return s.kv.Get(ctx, key)
}

// Set writes a raw value. It bypasses record invariants and is meant for
// diagnostics only.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.kv.Apply(ctx, map[string]string{key: value}, nil)
}

// Erase removes a raw value. Erasing an absent key is not an error.
func (s *Store) Erase(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.kv.Apply(ctx, nil, []string{key})
}

// SaveProvisioning writes the full record and sets the provisioned flag in
// one transaction. An empty BearerToken erases any previously stored token.
//
// Returns:
//   - error: ErrIncompleteRecord if a required field is empty, ErrStorage on write failure
func (s *Store) SaveProvisioning(ctx context.Context, rec ProvisioningRecord) error {
	if !rec.Complete() {
		return ErrIncompleteRecord
	}

	sets := map[string]string{
		KeyWiFiSSID:    rec.SSID,
		KeyWiFiPass:    rec.Password,
		KeyDeviceID:    rec.DeviceID,
		KeyProvToken:   rec.ProvisioningToken,
		KeyProvisioned: provisionedTrue,
	}
	var erases []string
	if rec.BearerToken != "" {
		sets[KeyBearerToken] = rec.BearerToken
	} else {
		erases = append(erases, KeyBearerToken)
	}

	return s.kv.Apply(ctx, sets, erases)
}

// LoadProvisioning returns the stored record.
//
// Returns:
//   - ProvisioningRecord: the record when the device is provisioned
//   - error: ErrNotFound when not provisioned (or the record is incomplete), ErrStorage on read failure
func (s *Store) LoadProvisioning(ctx context.Context) (ProvisioningRecord, error) {
	vals, err := s.kv.GetMany(ctx, provisioningKeys...)
	if err != nil {
		return ProvisioningRecord{}, err
	}

	rec := ProvisioningRecord{
		SSID:              vals[KeyWiFiSSID],
		Password:          vals[KeyWiFiPass],
		DeviceID:          vals[KeyDeviceID],
		ProvisioningToken: vals[KeyProvToken],
		BearerToken:       vals[KeyBearerToken],
	}
	if vals[KeyProvisioned] != provisionedTrue || !rec.Complete() {
		return ProvisioningRecord{}, ErrNotFound
	}
	return rec, nil
}

// IsProvisioned reports whether a complete record is stored. The flag alone
// is not trusted: all four required fields must also be present.
func (s *Store) IsProvisioned(ctx context.Context) (bool, error) {
	_, err := s.LoadProvisioning(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ClearProvisioning erases every field of the record and the flag.
func (s *Store) ClearProvisioning(ctx context.Context) error {
	if err := s.kv.Apply(ctx, nil, provisioningKeys); err != nil {
		return fmt.Errorf("clearing provisioning record: %w", err)
	}
	return nil
}

// BearerToken returns the token captured during provisioning.
func (s *Store) BearerToken(ctx context.Context) (string, error) {
	return s.kv.Get(ctx, KeyBearerToken)
}

// SaveCertificates persists both PEM strings in one transaction.
func (s *Store) SaveCertificates(ctx context.Context, pair CertificatePair) error {
	if !pair.Complete() {
		return ErrIncompletePair
	}
	return s.kv.Apply(ctx, map[string]string{
		KeyDeviceCert: pair.DeviceCert,
		KeyCACert:     pair.CACert,
	}, nil)
}

// LoadCertificates returns the stored pair, or ErrNotFound unless both
// halves are present.
func (s *Store) LoadCertificates(ctx context.Context) (CertificatePair, error) {
	vals, err := s.kv.GetMany(ctx, certificateKeys...)
	if err != nil {
		return CertificatePair{}, err
	}
	pair := CertificatePair{DeviceCert: vals[KeyDeviceCert], CACert: vals[KeyCACert]}
	if !pair.Complete() {
		return CertificatePair{}, ErrNotFound
	}
	return pair, nil
}

// HasCertificates is true only when both certificates are stored.
func (s *Store) HasCertificates(ctx context.Context) (bool, error) {
	_, err := s.LoadCertificates(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ClearCertificates erases both certificates.
func (s *Store) ClearCertificates(ctx context.Context) error {
	if err := s.kv.Apply(ctx, nil, certificateKeys); err != nil {
		return fmt.Errorf("clearing certificates: %w", err)
	}
	return nil
}
