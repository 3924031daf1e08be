// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/morganforge/llmgate/internal/config"
)

// ErrUnknownProvider indicates a model ID names a provider that is not
// configured.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry resolves provider names to adapters. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the configured backends.
func NewRegistry(cfgs []config.ProviderConfig, log zerolog.Logger) (*Registry, error) {
	adapters := make(map[string]Adapter, len(cfgs))
	for _, pc := range cfgs {
		if _, dup := adapters[pc.Name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", pc.Name)
		}
		adapters[pc.Name] = NewClient(pc.Name, pc.BaseURL, pc.Key(),
			WithRateLimit(pc.RequestsPerSec),
			WithClientLogger(log.With().Str("provider", pc.Name).Logger()))
	}
	return &Registry{adapters: adapters}, nil
}

// NewRegistryFromAdapters builds a registry from explicit adapters.
// Used by tests and embedders that bring their own backends.
func NewRegistryFromAdapters(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
