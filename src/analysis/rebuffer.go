package analysis

import (
	"context"
	"time"

	"github.com/DengYong4088/puffer/src/types"
)

// MinSessionPlay is the shortest session play time kept for the rebuffer statistic.
const MinSessionPlay = 2 * time.Second

// RebufferPercentile is the percentile reported per configuration.
const RebufferPercentile = 95

// SessionStats is the reconstructed extent of one playback session. The Min*
// fields are only set by startup events; the Max* fields are maximized
// independently over all events and need not come from the same event.
type SessionStats struct {
	MinPlayTime *time.Time
	MaxPlayTime time.Time
	MinCumRebuf *float64
	MaxCumRebuf float64
	seen        bool
}

// observe folds one event into the session.
func (s *SessionStats) observe(e types.BufferEvent) {
	if e.Event == types.EventStartup {
		// a repeated startup replaces the earlier one
		ts, cum := e.Time, e.CumRebuf
		s.MinPlayTime = &ts
		s.MinCumRebuf = &cum
	}
	if !s.seen || e.Time.After(s.MaxPlayTime) {
		s.MaxPlayTime = e.Time
	}
	if !s.seen || e.CumRebuf > s.MaxCumRebuf {
		s.MaxCumRebuf = e.CumRebuf
	}
	s.seen = true
}

// Complete reports whether a startup event was observed.
func (s *SessionStats) Complete() bool { return s.MinPlayTime != nil && s.MinCumRebuf != nil }

// RebufferResult holds the per-configuration rebuffer statistic and play time.
type RebufferResult struct {
	P95Pct    map[types.ConfigKey]float64 // percentile of per-session rebuffer ratio, in %
	TotalPlay map[types.ConfigKey]float64 // seconds

	Sessions           int // retained
	DiscardedNoStartup int
	DiscardedShort     int
}

// AggregateRebuffer reconstructs playback sessions from client_buffer events and
// reduces each configuration's sessions to the 95th percentile rebuffer ratio (%)
// and the total play time. A configuration whose sessions are all discarded
// fails with *ZeroPlayTimeError.
func AggregateRebuffer(ctx context.Context, resolver KeyResolver, events []types.BufferEvent) (RebufferResult, error) {
	sessions, err := reconstructSessions(ctx, resolver, events)
	if err != nil {
		return RebufferResult{P95Pct: map[types.ConfigKey]float64{}, TotalPlay: map[types.ConfigKey]float64{}}, err
	}
	return reduceSessions(sessions)
}

// reconstructSessions is pass one: all events are folded before any session is judged.
func reconstructSessions(ctx context.Context, resolver KeyResolver, events []types.BufferEvent) (map[types.ConfigKey]map[types.SessionKey]*SessionStats, error) {
	x := map[types.ConfigKey]map[types.SessionKey]*SessionStats{}
	for _, e := range events {
		key, err := resolver.ResolveKey(ctx, e.ExptID)
		if err != nil {
			return nil, err
		}
		byKey, ok := x[key]
		if !ok {
			byKey = map[types.SessionKey]*SessionStats{}
			x[key] = byKey
		}
		sk := e.Session()
		s, ok := byKey[sk]
		if !ok {
			s = &SessionStats{}
			byKey[sk] = s
		}
		s.observe(e)
	}
	return x, nil
}

// reduceSessions is pass two.
func reduceSessions(x map[types.ConfigKey]map[types.SessionKey]*SessionStats) (RebufferResult, error) {
	res := RebufferResult{P95Pct: map[types.ConfigKey]float64{}, TotalPlay: map[types.ConfigKey]float64{}}
	for _, key := range SortedKeys(x) {
		var play float64
		var ratios []float64
		for _, s := range x[key] {
			if !s.Complete() {
				res.DiscardedNoStartup++
				continue
			}
			sessPlay := s.MaxPlayTime.Sub(*s.MinPlayTime).Seconds()
			sessRebuf := s.MaxCumRebuf - *s.MinCumRebuf
			if sessPlay < MinSessionPlay.Seconds() {
				res.DiscardedShort++
				continue
			}
			res.Sessions++
			play += sessPlay
			ratios = append(ratios, sessRebuf/sessPlay)
		}
		if play == 0 {
			return res, &ZeroPlayTimeError{Key: key}
		}
		res.P95Pct[key] = Percentile(ratios, RebufferPercentile) * 100
		res.TotalPlay[key] = play
	}
	return res, nil
}
