// Package pipeline wires the configured stores to the aggregators: it opens the
// telemetry and metadata stores named by a settings file and runs the two
// window queries through analysis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DengYong4088/puffer/src/analysis"
	"github.com/DengYong4088/puffer/src/expconfig"
	"github.com/DengYong4088/puffer/src/monitor"
	"github.com/DengYong4088/puffer/src/plot"
	"github.com/DengYong4088/puffer/src/settings"
	"github.com/DengYong4088/puffer/src/telemetry"
)

// Stores holds the open store handles for one run.
type Stores struct {
	Telemetry telemetry.Source
	Metadata  expconfig.MetadataStore

	closers []func() error
}

// Open connects to the stores selected by s.Source. The caller must Close the
// result on every path.
func Open(ctx context.Context, s *settings.Settings) (*Stores, error) {
	switch s.Source {
	case settings.SourceLive:
		src, err := telemetry.NewInfluxSource(s.InfluxDB.Telemetry())
		if err != nil {
			return nil, fmt.Errorf("connect to InfluxDB %s: %w", s.InfluxDB.Addr(), err)
		}
		db, err := expconfig.OpenPostgres(ctx, s.Postgres.DSN())
		if err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("connect to PostgreSQL %s: %w", s.Postgres.Host, err)
		}
		return &Stores{
			Telemetry: src,
			Metadata:  expconfig.NewSQLStore(db),
			closers:   []func() error{src.Close, db.Close},
		}, nil
	case settings.SourceDuckDB:
		src, err := telemetry.OpenDuckDB(s.DuckDB.Path)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Telemetry: src,
			Metadata:  expconfig.NewSQLStore(src.DB()),
			closers:   []func() error{src.Close},
		}, nil
	case settings.SourceJSONL:
		src, err := telemetry.OpenJSONL(s.JSONL.Path)
		if err != nil {
			return nil, fmt.Errorf("open replay dump: %w", err)
		}
		return &Stores{
			Telemetry: src,
			Metadata:  src.Experiments(),
			closers:   []func() error{src.Close},
		}, nil
	}
	return nil, fmt.Errorf("unknown source %q", s.Source)
}

// Close releases every handle, last opened first.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Result is the outcome of one aggregation window.
type Result struct {
	Quality  analysis.QualityResult
	Rebuffer analysis.RebufferResult
	Days     int
	Now      time.Time
}

// Aggregate queries [now-days, now] and reduces both measurements. Either
// aggregate coming back empty yields analysis.ErrNoData.
func Aggregate(ctx context.Context, st *Stores, now time.Time, days int, m *monitor.RunMetrics) (*Result, error) {
	defer monitor.TimeTrack(time.Now(), "aggregate")
	since := telemetry.WindowStart(now, days)
	resolver := expconfig.NewResolver(st.Metadata)
	defer func() {
		cs := resolver.Stats()
		m.ResolverLookups.WithLabelValues("hit").Add(float64(cs.Hits))
		m.ResolverLookups.WithLabelValues("miss").Add(float64(cs.Misses))
		monitor.Debugf("experiment cache: %d hits, %d misses", cs.Hits, cs.Misses)
	}()

	points, err := telemetry.QualityPoints(ctx, st.Telemetry, since)
	if err != nil {
		return nil, err
	}
	m.PointsRead.WithLabelValues(telemetry.MeasurementVideoAcked).Add(float64(len(points)))
	monitor.Infof("read %d %s points since %s", len(points), telemetry.MeasurementVideoAcked, since.Format(time.RFC3339))
	q, err := analysis.AggregateQuality(ctx, resolver, points)
	if err != nil {
		return nil, err
	}
	m.QualitySkipped.Add(float64(q.Skipped))
	if q.Skipped > 0 {
		monitor.Debugf("skipped %d points without a usable ssim value", q.Skipped)
	}
	if len(q.DB) == 0 {
		return nil, analysis.ErrNoData
	}

	events, err := telemetry.BufferEvents(ctx, st.Telemetry, since)
	if err != nil {
		return nil, err
	}
	m.PointsRead.WithLabelValues(telemetry.MeasurementClientBuffer).Add(float64(len(events)))
	monitor.Infof("read %d %s points since %s", len(events), telemetry.MeasurementClientBuffer, since.Format(time.RFC3339))
	r, err := analysis.AggregateRebuffer(ctx, resolver, events)
	if err != nil {
		return nil, err
	}
	m.SessionsRetained.Add(float64(r.Sessions))
	m.SessionsDiscarded.WithLabelValues(monitor.DiscardNoStartup).Add(float64(r.DiscardedNoStartup))
	m.SessionsDiscarded.WithLabelValues(monitor.DiscardTooShort).Add(float64(r.DiscardedShort))
	monitor.Infof("%d sessions kept, %d without startup, %d under %s",
		r.Sessions, r.DiscardedNoStartup, r.DiscardedShort, analysis.MinSessionPlay)
	if len(r.P95Pct) == 0 {
		return nil, analysis.ErrNoData
	}
	return &Result{Quality: q, Rebuffer: r, Days: days, Now: now}, nil
}

// PlotInput converts the result for plot.WriteFile.
func (r *Result) PlotInput() plot.Input {
	return plot.Input{
		Quality:    r.Quality.DB,
		Rebuffer:   r.Rebuffer.P95Pct,
		TotalPlay:  r.Rebuffer.TotalPlay,
		WindowDays: r.Days,
		Now:        r.Now,
	}
}
