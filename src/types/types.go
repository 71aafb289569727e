// Package types holds the telemetry records and grouping keys shared by the
// telemetry sources, the aggregators and the plotter.
package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EventStartup is the client_buffer event type that marks the start of playback.
const EventStartup = "startup"

// ExperimentConfig is the per-experiment configuration stored in the metadata store.
// Only ABR and CC take part in grouping; the *Name fields are display hints.
type ExperimentConfig struct {
	ABR     string `json:"abr"`
	CC      string `json:"cc"`
	ABRName string `json:"abr_name,omitempty"`
	CCName  string `json:"cc_name,omitempty"`
}

// Key returns the grouping key of the configuration.
func (c ExperimentConfig) Key() ConfigKey { return ConfigKey{ABR: c.ABR, CC: c.CC} }

// ConfigKey identifies one compared arm: an (abr, cc) pair.
type ConfigKey struct {
	ABR string
	CC  string
}

func (k ConfigKey) String() string { return k.ABR + "+" + k.CC }

// Less orders keys by ABR then CC.
func (k ConfigKey) Less(o ConfigKey) bool {
	if k.ABR != o.ABR {
		return k.ABR < o.ABR
	}
	return k.CC < o.CC
}

// QualityPoint is one video_acked record. Either SSIM representation may be missing.
type QualityPoint struct {
	ExptID    int
	SSIMIndex *float64 // linear SSIM index in [0,1)
	SSIMdB    *float64 // legacy rows carry SSIM in dB only
}

// Index returns the usable linear SSIM index of the point, if any.
func (p QualityPoint) Index() (float64, bool) {
	if p.SSIMIndex != nil && !math.IsNaN(*p.SSIMIndex) && !math.IsInf(*p.SSIMIndex, 0) {
		return *p.SSIMIndex, true
	}
	if p.SSIMdB != nil && !math.IsNaN(*p.SSIMdB) && !math.IsInf(*p.SSIMdB, 0) {
		return SSIMdBToIndex(*p.SSIMdB), true
	}
	return 0, false
}

// SSIMdBToIndex converts SSIM in dB back to the linear index.
func SSIMdBToIndex(db float64) float64 {
	return 1 - math.Pow(10, db/-10)
}

// BufferEvent is one client_buffer record.
type BufferEvent struct {
	ExptID   int
	User     string
	InitID   int
	Channel  string
	Time     time.Time
	Event    string
	CumRebuf float64 // seconds stalled so far in the session
}

// Session returns the key of the playback session the event belongs to.
func (e BufferEvent) Session() SessionKey {
	return SessionKey{User: e.User, InitID: e.InitID, Channel: e.Channel, ExptID: e.ExptID}
}

// SessionKey identifies one playback session.
type SessionKey struct {
	User    string
	InitID  int
	Channel string
	ExptID  int
}

func (s SessionKey) String() string {
	return fmt.Sprintf("%s/%d/%s/%d", s.User, s.InitID, s.Channel, s.ExptID)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses the timestamp formats emitted by the telemetry stores. The result is in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}
