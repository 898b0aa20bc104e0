package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/infrastructure/config"
	"github.com/nerrad567/provisiond/internal/provisioning"
)

// printStatus reports what the credential store holds and whether the
// daemon is running. Secrets are never printed.
func printStatus(ctx context.Context, w io.Writer, cfg *config.Config, store *credstore.Store) error {
	fmt.Fprintf(w, "device:       %s\n", cfg.Device.ID)

	rec, err := store.LoadProvisioning(ctx)
	switch {
	case err == nil:
		fmt.Fprintf(w, "provisioned:  yes (ssid %q, device_id %q)\n", rec.SSID, rec.DeviceID)
	case errors.Is(err, credstore.ErrNotFound):
		fmt.Fprintln(w, "provisioned:  no")
	default:
		return fmt.Errorf("reading provisioning record: %w", err)
	}

	has, err := store.HasCertificates(ctx)
	if err != nil {
		return fmt.Errorf("reading certificates: %w", err)
	}
	if has {
		fmt.Fprintln(w, "certificates: present")
	} else {
		fmt.Fprintln(w, "certificates: absent")
	}

	fmt.Fprintf(w, "bearer token: %s\n", describeBearer(ctx, store, time.Now()))

	if pid, err := readPIDFile(cfg.Radio.RuntimeDir); err == nil && processAlive(pid) {
		fmt.Fprintf(w, "daemon:       running (pid %d)\n", pid)
	} else {
		fmt.Fprintln(w, "daemon:       not running")
	}
	return nil
}

func describeBearer(ctx context.Context, store *credstore.Store, now time.Time) string {
	token, err := store.BearerToken(ctx)
	if errors.Is(err, credstore.ErrNotFound) || (err == nil && token == "") {
		return "none"
	}
	if err != nil {
		return "unreadable"
	}

	info, ok := provisioning.InspectBearer(token)
	if !ok {
		return "present (opaque)"
	}
	switch {
	case info.ExpiresAt.IsZero():
		return "present (no expiry)"
	case info.Expired(now):
		return fmt.Sprintf("present (expired %s)", info.ExpiresAt.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("present (expires %s)", info.ExpiresAt.UTC().Format(time.RFC3339))
	}
}
