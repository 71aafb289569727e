package monitor

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ssim_rebuffer"

// Session discard reasons used as the "reason" label.
const (
	DiscardNoStartup = "no_startup"
	DiscardTooShort  = "too_short"
)

// RunMetrics collects counters for one run on a private registry. There is no
// HTTP endpoint; WriteTextfile emits them for the node exporter textfile collector.
type RunMetrics struct {
	registry *prometheus.Registry

	PointsRead        *prometheus.CounterVec
	QualitySkipped    prometheus.Counter
	SessionsRetained  prometheus.Counter
	SessionsDiscarded *prometheus.CounterVec
	ResolverLookups   *prometheus.CounterVec
	ArmsPlotted       prometheus.Gauge
	RunSeconds        prometheus.Gauge
}

// NewRunMetrics registers the run metrics on a fresh registry.
func NewRunMetrics() *RunMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &RunMetrics{
		registry: reg,
		PointsRead: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "points_read_total",
			Help:      "Telemetry points read per measurement.",
		}, []string{"measurement"}),
		QualitySkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "quality_points_skipped_total",
			Help:      "video_acked points without a usable SSIM value.",
		}),
		SessionsRetained: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_retained_total",
			Help:      "Playback sessions that contributed a rebuffer ratio.",
		}),
		SessionsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_discarded_total",
			Help:      "Playback sessions dropped before reduction, by reason.",
		}, []string{"reason"}),
		ResolverLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "experiment_lookups_total",
			Help:      "Experiment config resolutions by cache result.",
		}, []string{"result"}),
		ArmsPlotted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "arms_plotted",
			Help:      "Configurations placed on the plot.",
		}),
		RunSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the run.",
		}),
	}
}

// Registry exposes the underlying registry (tests, custom gatherers).
func (m *RunMetrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes all metrics in text exposition format to path.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
