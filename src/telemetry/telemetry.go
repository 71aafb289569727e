// Package telemetry reads video_acked and client_buffer points from a
// time-series store (or an offline replay of one) and decodes them into
// types.QualityPoint / types.BufferEvent.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/DengYong4088/puffer/src/types"
)

// Measurement names of the two telemetry streams.
const (
	MeasurementVideoAcked   = "video_acked"
	MeasurementClientBuffer = "client_buffer"
)

// Row is one point with its columns (tags and fields) keyed by name.
type Row map[string]any

// Source queries one measurement for all points at or after since.
type Source interface {
	Query(ctx context.Context, measurement string, since time.Time) ([]Row, error)
	Close() error
}

// WindowStart returns the start of a window of days ending at now.
func WindowStart(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// QualityPoints queries video_acked and decodes every row.
func QualityPoints(ctx context.Context, src Source, since time.Time) ([]types.QualityPoint, error) {
	rows, err := src.Query(ctx, MeasurementVideoAcked, since)
	if err != nil {
		return nil, err
	}
	out := make([]types.QualityPoint, 0, len(rows))
	for i, r := range rows {
		pt, err := DecodeQualityPoint(r)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", MeasurementVideoAcked, i, err)
		}
		out = append(out, pt)
	}
	return out, nil
}

// BufferEvents queries client_buffer and decodes every row.
func BufferEvents(ctx context.Context, src Source, since time.Time) ([]types.BufferEvent, error) {
	rows, err := src.Query(ctx, MeasurementClientBuffer, since)
	if err != nil {
		return nil, err
	}
	out := make([]types.BufferEvent, 0, len(rows))
	for i, r := range rows {
		e, err := DecodeBufferEvent(r)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", MeasurementClientBuffer, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// DecodeQualityPoint decodes a video_acked row. Missing or unparsable SSIM
// columns leave the corresponding field nil; expt_id is required.
func DecodeQualityPoint(r Row) (types.QualityPoint, error) {
	id, err := r.intCol("expt_id")
	if err != nil {
		return types.QualityPoint{}, err
	}
	pt := types.QualityPoint{ExptID: id}
	if v, ok := r.optFloat("ssim_index"); ok {
		pt.SSIMIndex = &v
	}
	if v, ok := r.optFloat("ssim"); ok {
		pt.SSIMdB = &v
	}
	return pt, nil
}

// DecodeBufferEvent decodes a client_buffer row; all columns are required.
func DecodeBufferEvent(r Row) (types.BufferEvent, error) {
	var e types.BufferEvent
	var err error
	if e.ExptID, err = r.intCol("expt_id"); err != nil {
		return e, err
	}
	if e.InitID, err = r.intCol("init_id"); err != nil {
		return e, err
	}
	if e.User, err = r.stringCol("user"); err != nil {
		return e, err
	}
	if e.Channel, err = r.stringCol("channel"); err != nil {
		return e, err
	}
	if e.Event, err = r.stringCol("event"); err != nil {
		return e, err
	}
	if e.Time, err = r.timeCol("time"); err != nil {
		return e, err
	}
	if e.CumRebuf, err = r.floatCol("cum_rebuf"); err != nil {
		return e, err
	}
	return e, nil
}

// numberLike matches json.Number from both encoding/json and goccy/go-json.
type numberLike interface {
	Float64() (float64, error)
	Int64() (int64, error)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case numberLike:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case numberLike:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func (r Row) intCol(name string) (int, error) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing column %q", name)
	}
	i, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("column %q: not an integer: %v", name, v)
	}
	return i, nil
}

func (r Row) floatCol(name string) (float64, error) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing column %q", name)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("column %q: not a number: %v", name, v)
	}
	return f, nil
}

func (r Row) optFloat(name string) (float64, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

func (r Row) stringCol(name string) (string, error) {
	v, ok := r[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing column %q", name)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return fmt.Sprint(v), nil
}

func (r Row) timeCol(name string) (time.Time, error) {
	v, ok := r[name]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("missing column %q", name)
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		ts, err := types.ParseTime(t)
		if err != nil {
			return time.Time{}, fmt.Errorf("column %q: %w", name, err)
		}
		return ts, nil
	}
	// epoch nanoseconds (InfluxDB epoch=ns)
	if ns, ok := toInt(v); ok {
		return time.Unix(0, int64(ns)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("column %q: not a timestamp: %v", name, v)
}
