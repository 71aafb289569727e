// Package plot renders the per-configuration quality/stall trade-off as an
// annotated scatter chart.
package plot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/DengYong4088/puffer/src/analysis"
	"github.com/DengYong4088/puffer/src/monitor"
	"github.com/DengYong4088/puffer/src/types"
)

const (
	XAxisName = "95th percentile rebuffer rate (%)"
	YAxisName = "Average SSIM (dB)"

	DPI    = 150
	Width  = 960 // 6.4in at 150 DPI
	Height = 720 // 4.8in

	titleLayout = "2006-01-02T15"
)

// Input carries the joined aggregates for one window.
type Input struct {
	Quality    map[types.ConfigKey]float64 // average SSIM, dB
	Rebuffer   map[types.ConfigKey]float64 // p95 rebuffer ratio, %
	TotalPlay  map[types.ConfigKey]float64 // seconds
	WindowDays int
	Now        time.Time
}

// JoinError reports a configuration that has quality data but no rebuffer data.
type JoinError struct {
	Key types.ConfigKey
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%s does not exist in both ssim and rebuffer", e.Key)
}

// ErrEmpty is returned when there is nothing to plot.
var ErrEmpty = errors.New("nothing to plot")

// pointStyle returns a style that renders points only (no connecting line)
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: 0,
		DotWidth:    4,
		DotColor:    col,
	}
}

// Title returns the chart title for a window of days ending at now.
func Title(now time.Time, days int) string {
	now = now.UTC()
	start := now.Add(-time.Duration(days) * 24 * time.Hour)
	return fmt.Sprintf("[%s, %s] (UTC)", start.Format(titleLayout), now.Format(titleLayout))
}

// Label returns the annotation text for one configuration.
func Label(key types.ConfigKey, totalPlaySeconds float64) string {
	return fmt.Sprintf("%s (%.1fh)", key, totalPlaySeconds/3600)
}

// Render draws in as PNG to w.
func Render(w io.Writer, in Input) error {
	return render(w, in, chart.PNG)
}

// WriteFile renders in and writes it to path. Paths ending in .svg get SVG
// output, anything else PNG. Nothing is written if rendering fails.
func WriteFile(path string, in Input) error {
	rp := chart.PNG
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		rp = chart.SVG
	}
	var buf bytes.Buffer
	if err := render(&buf, in, rp); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write plot %s: %w", path, err)
	}
	return nil
}

func render(w io.Writer, in Input, rp chart.RendererProvider) error {
	ch, err := build(in)
	if err != nil {
		return err
	}
	if err := ch.Render(rp, w); err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	return nil
}

func build(in Input) (chart.Chart, error) {
	keys := analysis.SortedKeys(in.Quality)
	if len(keys) == 0 {
		return chart.Chart{}, ErrEmpty
	}
	for _, k := range keys {
		if _, ok := in.Rebuffer[k]; !ok {
			return chart.Chart{}, &JoinError{Key: k}
		}
	}

	minX, maxX := math.MaxFloat64, -math.MaxFloat64
	minY, maxY := math.MaxFloat64, -math.MaxFloat64
	var series []chart.Series
	var notes []chart.Value2
	for i, k := range keys {
		x, y := in.Rebuffer[k], in.Quality[k]
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		series = append(series, chart.ContinuousSeries{
			Name:    k.String(),
			Style:   pointStyle(chart.GetDefaultColor(i)),
			XValues: []float64{x},
			YValues: []float64{y},
		})
		notes = append(notes, chart.Value2{XValue: x, YValue: y, Label: Label(k, in.TotalPlay[k])})
		monitor.Debugf("plot %s at (%.3f%%, %.3f dB)", k, x, y)
	}
	series = append(series, chart.AnnotationSeries{Annotations: notes})

	xr := xRange(minX, maxX)
	yMin, yMax := niceAxisBounds(minY, maxY)
	return chart.Chart{
		Title:  Title(in.Now, in.WindowDays),
		Width:  Width,
		Height: Height,
		DPI:    DPI,
		Background: chart.Style{
			Padding: chart.Box{Top: 24, Left: 16, Right: 24, Bottom: 16},
		},
		XAxis: chart.XAxis{
			Name:  XAxisName,
			Range: xr,
			Ticks: niceTicks(xr.Min, xr.Max, 6),
		},
		YAxis: chart.YAxis{
			Name:  YAxisName,
			Range: &chart.ContinuousRange{Min: yMin, Max: yMax},
			Ticks: niceTicks(yMin, yMax, 6),
		},
		Series: series,
	}, nil
}

// xRange pads the rebuffer extent, keeps it inside [0, 100] and flips it so
// the configurations with fewer stalls sit on the right.
func xRange(minX, maxX float64) *chart.ContinuousRange {
	lo, hi := niceAxisBounds(minX, maxX)
	lo = math.Max(lo, 0)
	hi = math.Min(hi, 100)
	if hi <= lo {
		if lo >= 100 {
			lo = hi - 1
		} else {
			hi = lo + 1
		}
	}
	return &chart.ContinuousRange{Min: lo, Max: hi, Descending: true}
}

// niceAxisBounds expands [min,max] by a small margin and rounds to "nice" numbers for readability.
func niceAxisBounds(min, max float64) (float64, float64) {
	if math.IsNaN(min) || math.IsNaN(max) {
		return min, max
	}
	if max <= min {
		max = min + 1
	}
	span := max - min
	// 5% margin on both sides
	pad := span * 0.05
	a := min - pad
	b := max + pad
	mag := math.Pow(10, math.Floor(math.Log10(span)))
	if !math.IsInf(mag, 0) && mag > 0 {
		a = math.Floor(a/mag) * mag
		b = math.Ceil(b/mag) * mag
	}
	return a, b
}

// niceTicks generates up to n tick marks between [min, max] on 1/2/2.5/5 steps,
// never leaving the range.
func niceTicks(min, max float64, n int) []chart.Tick {
	if n < 2 || math.IsNaN(min) || math.IsNaN(max) || max <= min {
		return nil
	}
	span := max - min
	mag := math.Pow(10, math.Floor(math.Log10(span/float64(n-1))))
	bestStep := mag
	bestScore := math.MaxFloat64
	for _, c := range []float64{1, 2, 2.5, 5, 10} {
		step := c * mag
		count := math.Max(math.Ceil(span/step), 2)
		if score := math.Abs(count - float64(n)); score < bestScore {
			bestScore = score
			bestStep = step
		}
	}
	var ticks []chart.Tick
	for v := math.Ceil(min/bestStep) * bestStep; v <= max+bestStep*1e-9; v += bestStep {
		ticks = append(ticks, chart.Tick{Value: v, Label: formatTick(v)})
		if len(ticks) > n+2 {
			break
		}
	}
	return ticks
}

func formatTick(v float64) string {
	av := math.Abs(v)
	switch {
	case av < 1e-9:
		return "0"
	case av >= 100:
		return fmt.Sprintf("%.0f", v)
	case av >= 10:
		return fmt.Sprintf("%.1f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
