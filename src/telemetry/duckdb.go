package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/DengYong4088/puffer/src/monitor"
)

// DuckDBSource replays telemetry exported into a DuckDB file. Each measurement
// is a table of the same name with a TIMESTAMP "time" column; the file may also
// hold the puffer_experiment table, reachable through DB().
type DuckDBSource struct {
	db *sql.DB
}

// OpenDuckDB opens path read-only.
func OpenDuckDB(path string) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	return &DuckDBSource{db: db}, nil
}

// NewDuckDBSource wraps an already open DuckDB handle; Close closes it.
func NewDuckDBSource(db *sql.DB) *DuckDBSource { return &DuckDBSource{db: db} }

// DB returns the underlying handle.
func (s *DuckDBSource) DB() *sql.DB { return s.db }

var duckTables = map[string]bool{
	MeasurementVideoAcked:   true,
	MeasurementClientBuffer: true,
}

// Query implements Source.
func (s *DuckDBSource) Query(ctx context.Context, measurement string, since time.Time) ([]Row, error) {
	if !duckTables[measurement] {
		return nil, fmt.Errorf("unknown measurement %q", measurement)
	}
	defer monitor.TimeTrack(time.Now(), "duckdb query "+measurement)
	q := fmt.Sprintf(`SELECT * FROM %s WHERE "time" >= $1`, measurement)
	rows, err := s.db.QueryContext(ctx, q, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", measurement, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", measurement, err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", measurement, err)
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", measurement, err)
	}
	monitor.Debugf("[duckdb] %s: %d points since %s", measurement, len(out), since.Format(time.RFC3339))
	return out, nil
}

// Close implements Source.
func (s *DuckDBSource) Close() error { return s.db.Close() }
