package analysis

import (
	"context"

	"github.com/DengYong4088/puffer/src/types"
)

// ArmSummary counts the raw inputs one configuration contributed to a window.
type ArmSummary struct {
	Key              types.ConfigKey `json:"-"`
	Arm              string          `json:"arm"`
	QualityPoints    int             `json:"quality_points"`
	UsableQuality    int             `json:"usable_quality_points"`
	BufferEvents     int             `json:"buffer_events"`
	Sessions         int             `json:"sessions"`
	CompleteSessions int             `json:"complete_sessions"`
	LongSessions     int             `json:"sessions_over_min_play"`
	PlaySeconds      float64         `json:"play_seconds"`
}

// Summarize counts points, events and sessions per configuration without
// applying any of the data-sufficiency rules. The result is in ConfigKey order.
func Summarize(ctx context.Context, resolver KeyResolver, points []types.QualityPoint, events []types.BufferEvent) ([]ArmSummary, error) {
	arms := map[types.ConfigKey]*ArmSummary{}
	get := func(k types.ConfigKey) *ArmSummary {
		a, ok := arms[k]
		if !ok {
			a = &ArmSummary{Key: k, Arm: k.String()}
			arms[k] = a
		}
		return a
	}
	for _, pt := range points {
		k, err := resolver.ResolveKey(ctx, pt.ExptID)
		if err != nil {
			return nil, err
		}
		a := get(k)
		a.QualityPoints++
		if _, ok := pt.Index(); ok {
			a.UsableQuality++
		}
	}
	for _, e := range events {
		k, err := resolver.ResolveKey(ctx, e.ExptID)
		if err != nil {
			return nil, err
		}
		get(k).BufferEvents++
	}
	sessions, err := reconstructSessions(ctx, resolver, events)
	if err != nil {
		return nil, err
	}
	for k, byKey := range sessions {
		a := get(k)
		for _, s := range byKey {
			a.Sessions++
			if !s.Complete() {
				continue
			}
			a.CompleteSessions++
			if play := s.MaxPlayTime.Sub(*s.MinPlayTime); play >= MinSessionPlay {
				a.LongSessions++
				a.PlaySeconds += play.Seconds()
			}
		}
	}
	out := make([]ArmSummary, 0, len(arms))
	for _, k := range SortedKeys(arms) {
		out = append(out, *arms[k])
	}
	return out, nil
}
