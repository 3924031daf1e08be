// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrCatalogUnavailable indicates refresh failed and no prior good
	// snapshot exists. No tier can be served in this state.
	ErrCatalogUnavailable = errors.New("catalog unavailable: no model inventory")

	// ErrRefreshFailed indicates a refresh attempt failed; the previous
	// snapshot, if any, remains in effect.
	ErrRefreshFailed = errors.New("catalog refresh failed")
)

// ============================================================================
// SNAPSHOT
// ============================================================================

// Snapshot is an immutable view of the model inventory.
type Snapshot struct {
	models    []Descriptor
	byID      map[string]int
	fetchedAt time.Time
}

// Models returns the descriptors in catalog order. The returned slice
// must not be mutated.
func (s *Snapshot) Models() []Descriptor { return s.models }

// FetchedAt returns when this snapshot was built.
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

func newSnapshot(models []Descriptor, at time.Time) *Snapshot {
	byID := make(map[string]int, len(models))
	for i, m := range models {
		byID[m.ID()] = i
	}
	return &Snapshot{models: models, byID: byID, fetchedAt: at}
}

// ============================================================================
// CATALOG
// ============================================================================

// Source fetches the current model list from the discovery endpoint.
type Source interface {
	FetchModels(ctx context.Context) ([]Descriptor, error)
}

// Catalog holds the shared model inventory.
type Catalog struct {
	source    Source
	tiers     map[Tier]TierRule
	cachePath string
	log       zerolog.Logger

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithCachePath persists the last good snapshot at path so the catalog
// survives a restart without a live discovery fetch.
func WithCachePath(path string) Option {
	return func(c *Catalog) { c.cachePath = path }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Catalog) { c.log = log }
}

// New creates a catalog backed by the given discovery source and tier
// rules. If a cache path is configured and holds a previous snapshot, it
// is loaded immediately so routing can start before the first refresh.
func New(source Source, tiers map[Tier]TierRule, opts ...Option) *Catalog {
	c := &Catalog{
		source: source,
		tiers:  tiers,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cachePath != "" {
		if snap, err := loadCache(c.cachePath); err == nil {
			c.snap.Store(snap)
			c.log.Debug().Int("models", len(snap.models)).Msg("catalog loaded from cache")
		}
	}
	return c
}

// Refresh fetches the model list and atomically replaces the inventory.
// A failed refresh leaves the previous snapshot intact; the error is
// ErrCatalogUnavailable only when there is no prior good state to fall
// back on. Concurrent refreshes join a single in-flight fetch.
func (c *Catalog) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		models, err := c.source.FetchModels(ctx)
		if err == nil && len(models) == 0 {
			err = errors.New("discovery returned no valid models")
		}
		if err != nil {
			if c.snap.Load() == nil {
				return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
			}
			c.log.Warn().Err(err).Msg("catalog refresh failed, keeping previous inventory")
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}

		snap := newSnapshot(models, time.Now())
		c.snap.Store(snap)
		c.log.Info().Int("models", len(models)).Msg("catalog refreshed")

		if c.cachePath != "" {
			if err := saveCache(c.cachePath, snap); err != nil {
				c.log.Warn().Err(err).Msg("failed to persist catalog cache")
			}
		}
		return nil, nil
	})
	return err
}

// List returns the enabled models qualifying for the tier, in catalog
// order. The order carries no ranking; scoring happens elsewhere.
// Returns ErrCatalogUnavailable when no snapshot exists.
func (c *Catalog) List(tier Tier) ([]Descriptor, error) {
	snap := c.snap.Load()
	if snap == nil {
		return nil, ErrCatalogUnavailable
	}
	rule, ok := c.tiers[tier]
	if !ok {
		return nil, nil
	}
	var out []Descriptor
	for _, d := range snap.models {
		if d.Enabled && rule.Admits(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Get looks up a descriptor by its full "provider/model" identifier.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	snap := c.snap.Load()
	if snap == nil {
		return Descriptor{}, false
	}
	i, ok := snap.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return snap.models[i], true
}

// Snapshot returns the current immutable inventory view, or nil when no
// refresh has succeeded yet and no cache was loaded.
func (c *Catalog) Snapshot() *Snapshot { return c.snap.Load() }

// Ready reports whether the catalog can serve any tier.
func (c *Catalog) Ready() bool { return c.snap.Load() != nil }

// ============================================================================
// PERIODIC REFRESH
// ============================================================================

// RunRefresher refreshes the catalog on the given interval and whenever
// the trigger channel fires, until ctx is cancelled. A zero interval
// disables the timer; the trigger still works.
func (c *Catalog) RunRefresher(ctx context.Context, interval time.Duration, trigger <-chan struct{}) {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-trigger:
		}
		if err := c.Refresh(ctx); err != nil {
			c.log.Warn().Err(err).Msg("scheduled catalog refresh failed")
		}
	}
}

// ============================================================================
// DISK CACHE
// ============================================================================

// cacheFile is the persisted snapshot format.
type cacheFile struct {
	Version   int          `json:"version"`
	FetchedAt time.Time    `json:"fetched_at"`
	Models    []Descriptor `json:"models"`
}

func loadCache(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	if len(cf.Models) == 0 {
		return nil, errors.New("empty catalog cache")
	}
	return newSnapshot(cf.Models, cf.FetchedAt), nil
}

func saveCache(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cacheFile{
		Version:   1,
		FetchedAt: snap.fetchedAt,
		Models:    snap.models,
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
