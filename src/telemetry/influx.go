package telemetry

import (
	"context"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/influxdata/influxdb1-client/models"

	"github.com/DengYong4088/puffer/src/monitor"
)

// InfluxConfig addresses an InfluxDB 1.x database.
type InfluxConfig struct {
	Addr     string // e.g. http://127.0.0.1:8086
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// InfluxSource queries measurements with InfluxQL over HTTP.
type InfluxSource struct {
	c  client.Client
	db string
}

// NewInfluxSource creates the HTTP client. No request is made until Query.
func NewInfluxSource(cfg InfluxConfig) (*InfluxSource, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("influxdb client: %w", err)
	}
	return &InfluxSource{c: c, db: cfg.Database}, nil
}

func influxQuery(measurement string, since time.Time) string {
	return fmt.Sprintf("SELECT * FROM %s WHERE time >= '%s'", measurement, since.UTC().Format(time.RFC3339Nano))
}

// Query implements Source.
func (s *InfluxSource) Query(ctx context.Context, measurement string, since time.Time) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer monitor.TimeTrack(time.Now(), "influx query "+measurement)
	resp, err := s.c.Query(client.NewQuery(influxQuery(measurement, since), s.db, ""))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", measurement, err)
	}
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("query %s: %w", measurement, err)
	}
	var rows []Row
	for _, res := range resp.Results {
		for _, series := range res.Series {
			rows = append(rows, seriesRows(series)...)
		}
	}
	monitor.Debugf("[influx] %s: %d points since %s", measurement, len(rows), since.Format(time.RFC3339))
	return rows, nil
}

// seriesRows flattens one result series; group-by tags are copied into every row.
func seriesRows(series models.Row) []Row {
	out := make([]Row, 0, len(series.Values))
	for _, vals := range series.Values {
		r := make(Row, len(series.Columns)+len(series.Tags))
		for k, v := range series.Tags {
			r[k] = v
		}
		for i, col := range series.Columns {
			if i < len(vals) {
				r[col] = vals[i]
			}
		}
		out = append(out, r)
	}
	return out
}

// Close implements Source.
func (s *InfluxSource) Close() error { return s.c.Close() }
