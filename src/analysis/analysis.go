// Package analysis reduces raw video_acked and client_buffer telemetry to one
// statistic per (abr, cc) configuration:
//
//   - average SSIM in dB (AggregateQuality)
//   - 95th percentile rebuffer ratio across playback sessions plus total play
//     time (AggregateRebuffer)
//
// Dependency direction: cmd -> analysis for aggregation; telemetry for collection only.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/DengYong4088/puffer/src/types"
)

// KeyResolver maps an experiment id to its configuration key.
type KeyResolver interface {
	ResolveKey(ctx context.Context, exptID int) (types.ConfigKey, error)
}

// ErrNoData is returned when an aggregate ends up without any configuration.
var ErrNoData = errors.New("no data found in the queried range")

// ErrDomain is returned by SSIMIndexToDB for indices whose dB value is undefined.
var ErrDomain = errors.New("math domain error")

// ZeroPlayTimeError reports a configuration whose sessions were all discarded.
type ZeroPlayTimeError struct {
	Key types.ConfigKey
}

func (e *ZeroPlayTimeError) Error() string {
	return fmt.Sprintf("%s: total play time is 0", e.Key)
}

// SortedKeys returns the keys of m in ConfigKey order.
func SortedKeys[V any](m map[types.ConfigKey]V) []types.ConfigKey {
	keys := make([]types.ConfigKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func mean(a []float64) float64 {
	if len(a) == 0 {
		return math.NaN()
	}
	var s float64
	for _, v := range a {
		s += v
	}
	return s / float64(len(a))
}

// Percentile returns the p-th percentile (0..100) of a using linear interpolation
// between closest ranks: rank = p/100*(n-1). The input is not modified.
// Empty input yields NaN.
func Percentile(a []float64, p float64) float64 {
	if len(a) == 0 || math.IsNaN(p) {
		return math.NaN()
	}
	cp := append([]float64(nil), a...)
	sort.Float64s(cp)
	if p <= 0 {
		return cp[0]
	}
	if p >= 100 {
		return cp[len(cp)-1]
	}
	rank := p / 100 * float64(len(cp)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return cp[lo]
	}
	frac := rank - float64(lo)
	return cp[lo] + (cp[hi]-cp[lo])*frac
}

// ConfigAggregate is the joined per-configuration result.
type ConfigAggregate struct {
	Key              types.ConfigKey
	AvgSSIMdB        float64
	RebufferP95Pct   float64
	TotalPlaySeconds float64
}

// Join pairs quality and rebuffer results by key, in key order. Keys present in
// only one side are reported in missing (quality-only keys first).
func Join(q QualityResult, r RebufferResult) (joined []ConfigAggregate, missing []types.ConfigKey) {
	for _, k := range SortedKeys(q.DB) {
		p95, ok := r.P95Pct[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		joined = append(joined, ConfigAggregate{Key: k, AvgSSIMdB: q.DB[k], RebufferP95Pct: p95, TotalPlaySeconds: r.TotalPlay[k]})
	}
	for _, k := range SortedKeys(r.P95Pct) {
		if _, ok := q.DB[k]; !ok {
			missing = append(missing, k)
		}
	}
	return joined, missing
}
