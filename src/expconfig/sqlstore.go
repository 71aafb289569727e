package expconfig

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/DengYong4088/puffer/src/types"
)

// lookupQuery works for both PostgreSQL and DuckDB ($n placeholders).
const lookupQuery = `SELECT data FROM puffer_experiment WHERE id = $1`

// SQLStore reads experiment configs from the puffer_experiment table. The data
// column holds the experiment JSON document.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle. The caller owns db.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// LookupExperiment implements MetadataStore. Anything but exactly one row is an unknown id.
func (s *SQLStore) LookupExperiment(ctx context.Context, id int) (types.ExperimentConfig, error) {
	rows, err := s.db.QueryContext(ctx, lookupQuery, id)
	if err != nil {
		return types.ExperimentConfig{}, fmt.Errorf("query puffer_experiment: %w", err)
	}
	defer rows.Close()

	var raws []any
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return types.ExperimentConfig{}, fmt.Errorf("scan puffer_experiment: %w", err)
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return types.ExperimentConfig{}, fmt.Errorf("read puffer_experiment: %w", err)
	}
	if len(raws) != 1 {
		return types.ExperimentConfig{}, fmt.Errorf("%w: %d (%d rows)", ErrUnknownExperiment, id, len(raws))
	}
	return DecodeConfig(raws[0])
}

// DecodeConfig decodes the experiment document in whatever shape the driver
// returned it: JSON text, raw bytes, or an already decoded map.
func DecodeConfig(raw any) (types.ExperimentConfig, error) {
	var b []byte
	switch v := raw.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case map[string]any:
		enc, err := json.Marshal(v)
		if err != nil {
			return types.ExperimentConfig{}, fmt.Errorf("re-encode experiment data: %w", err)
		}
		b = enc
	case nil:
		return types.ExperimentConfig{}, fmt.Errorf("experiment data is null")
	default:
		return types.ExperimentConfig{}, fmt.Errorf("unsupported experiment data type %T", raw)
	}
	var cfg types.ExperimentConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return types.ExperimentConfig{}, fmt.Errorf("decode experiment data: %w", err)
	}
	if cfg.ABR == "" || cfg.CC == "" {
		return types.ExperimentConfig{}, fmt.Errorf("experiment data lacks abr/cc: %s", b)
	}
	return cfg, nil
}
