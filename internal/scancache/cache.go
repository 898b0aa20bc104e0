// Package scancache holds the most recent WiFi scan for the provisioning
// service.
//
// The cache is populated once when provisioning starts, before any client
// can associate with the AP, and refreshed only on explicit request. Every
// access takes a single lock with a bounded wait; a caller that cannot get
// the lock in time receives ErrCacheBusy instead of blocking.
package scancache

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrCacheBusy is returned when the lock cannot be acquired within the wait.
var ErrCacheBusy = errors.New("scancache: cache busy")

// Defaults used when Options leaves a field zero.
const (
	DefaultMaxEntries = 20
	DefaultReadWait   = time.Second
	DefaultWriteWait  = 5 * time.Second
)

// Network is one scanned access point.
type Network struct {
	SSID    string `json:"ssid"`
	RSSI    int    `json:"rssi"`
	Channel int    `json:"channel"`
	Secure  bool   `json:"secure"`
}

// Options tunes a Cache.
type Options struct {
	// MaxEntries caps the number of networks kept per scan.
	MaxEntries int
	// ReadWait bounds lock acquisition for Snapshot and Populated.
	ReadWait time.Duration
	// WriteWait bounds lock acquisition for Replace and Invalidate.
	WriteWait time.Duration
}

// Cache is safe for concurrent use.
type Cache struct {
	lock chan struct{}
	opts Options

	networks  []Network
	populated bool
}

// New creates an empty, unpopulated cache.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.ReadWait <= 0 {
		opts.ReadWait = DefaultReadWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	return &Cache{
		lock: make(chan struct{}, 1),
		opts: opts,
	}
}

func (c *Cache) acquire(ctx context.Context, wait time.Duration) error {
	select {
	case c.lock <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case c.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrCacheBusy
	case <-ctx.Done():
		return ErrCacheBusy
	}
}

func (c *Cache) release() {
	<-c.lock
}

// Snapshot returns a copy of the cached networks and whether the cache has
// been populated since the last Invalidate.
func (c *Cache) Snapshot(ctx context.Context) ([]Network, bool, error) {
	if err := c.acquire(ctx, c.opts.ReadWait); err != nil {
		return nil, false, err
	}
	defer c.release()

	out := make([]Network, len(c.networks))
	copy(out, c.networks)
	return out, c.populated, nil
}

// Populated reports whether a scan has been stored.
func (c *Cache) Populated(ctx context.Context) (bool, error) {
	if err := c.acquire(ctx, c.opts.ReadWait); err != nil {
		return false, err
	}
	defer c.release()
	return c.populated, nil
}

// Replace stores a new scan result, strongest signal first, capped at
// MaxEntries, and marks the cache populated. Entries with an empty SSID
// (hidden networks) are dropped.
func (c *Cache) Replace(ctx context.Context, nets []Network) error {
	kept := make([]Network, 0, len(nets))
	for _, n := range nets {
		if n.SSID != "" {
			kept = append(kept, n)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].RSSI > kept[j].RSSI })
	if len(kept) > c.opts.MaxEntries {
		kept = kept[:c.opts.MaxEntries]
	}

	if err := c.acquire(ctx, c.opts.WriteWait); err != nil {
		return err
	}
	defer c.release()

	c.networks = kept
	c.populated = true
	return nil
}

// Invalidate clears the populated flag. The last networks are dropped too,
// so a stopped provisioning session never serves stale data.
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.acquire(ctx, c.opts.WriteWait); err != nil {
		return err
	}
	defer c.release()

	c.networks = nil
	c.populated = false
	return nil
}
