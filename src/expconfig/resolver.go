// Package expconfig resolves numeric experiment ids to their ABR / congestion
// control configuration, caching each answer for the lifetime of a run.
package expconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/DengYong4088/puffer/src/types"
)

// ErrUnknownExperiment is returned when the metadata store has no row for an id.
var ErrUnknownExperiment = errors.New("invalid experiment ID")

// MetadataStore looks up one experiment configuration.
type MetadataStore interface {
	LookupExperiment(ctx context.Context, id int) (types.ExperimentConfig, error)
}

// CacheStats counts resolver cache results.
type CacheStats struct {
	Hits   int
	Misses int
}

// Resolver caches experiment configs by id. Entries are never evicted: configurations
// do not change during a run. Not safe for concurrent use.
type Resolver struct {
	store MetadataStore
	cache map[int]types.ExperimentConfig
	stats CacheStats
}

// NewResolver returns a resolver backed by store.
func NewResolver(store MetadataStore) *Resolver {
	return &Resolver{store: store, cache: make(map[int]types.ExperimentConfig)}
}

// Resolve returns the configuration of experiment id, querying the store once per id.
// Failed lookups are not cached.
func (r *Resolver) Resolve(ctx context.Context, id int) (types.ExperimentConfig, error) {
	if cfg, ok := r.cache[id]; ok {
		r.stats.Hits++
		return cfg, nil
	}
	r.stats.Misses++
	cfg, err := r.store.LookupExperiment(ctx, id)
	if err != nil {
		return types.ExperimentConfig{}, fmt.Errorf("resolve experiment %d: %w", id, err)
	}
	r.cache[id] = cfg
	return cfg, nil
}

// ResolveKey returns the grouping key of experiment id.
func (r *Resolver) ResolveKey(ctx context.Context, id int) (types.ConfigKey, error) {
	cfg, err := r.Resolve(ctx, id)
	if err != nil {
		return types.ConfigKey{}, err
	}
	return cfg.Key(), nil
}

// Stats reports cache hits and misses so far.
func (r *Resolver) Stats() CacheStats { return r.stats }

// MapStore is an in-memory MetadataStore.
type MapStore map[int]types.ExperimentConfig

// LookupExperiment implements MetadataStore.
func (m MapStore) LookupExperiment(_ context.Context, id int) (types.ExperimentConfig, error) {
	cfg, ok := m[id]
	if !ok {
		return types.ExperimentConfig{}, fmt.Errorf("%w: %d", ErrUnknownExperiment, id)
	}
	return cfg, nil
}
