package expconfig

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DengYong4088/puffer/src/types"
)

type countingStore struct {
	MapStore
	calls map[int]int
}

func (c *countingStore) LookupExperiment(ctx context.Context, id int) (types.ExperimentConfig, error) {
	c.calls[id]++
	return c.MapStore.LookupExperiment(ctx, id)
}

func TestResolver_CachesPerID(t *testing.T) {
	store := &countingStore{
		MapStore: MapStore{
			1: {ABR: "bba", CC: "cubic"},
			2: {ABR: "bola", CC: "bbr"},
		},
		calls: map[int]int{},
	}
	r := NewResolver(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		k, err := r.ResolveKey(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, types.ConfigKey{ABR: "bba", CC: "cubic"}, k)
	}
	cfg, err := r.Resolve(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "bola", cfg.ABR)

	assert.Equal(t, 1, store.calls[1])
	assert.Equal(t, 1, store.calls[2])
	assert.Equal(t, CacheStats{Hits: 4, Misses: 2}, r.Stats())
}

func TestResolver_UnknownIDNotCached(t *testing.T) {
	store := &countingStore{MapStore: MapStore{}, calls: map[int]int{}}
	r := NewResolver(store)
	_, err := r.Resolve(context.Background(), 9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownExperiment))
	assert.Contains(t, err.Error(), "9")
	_, err = r.Resolve(context.Background(), 9)
	require.Error(t, err)
	assert.Equal(t, 2, store.calls[9])
}

func TestDecodeConfig_Shapes(t *testing.T) {
	want := types.ExperimentConfig{ABR: "bba", CC: "cubic"}
	for _, raw := range []any{
		`{"abr":"bba","cc":"cubic"}`,
		[]byte(`{"abr":"bba","cc":"cubic","other":[1,2]}`),
		map[string]any{"abr": "bba", "cc": "cubic"},
	} {
		got, err := DecodeConfig(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := DecodeConfig(`{"abr":"puffer_ttp","abr_name":"Fugu","cc":"bbr"}`)
	require.NoError(t, err)
	assert.Equal(t, "Fugu", got.ABRName)

	for _, raw := range []any{nil, 42, `{"abr":"bba"}`, `not json`} {
		_, err := DecodeConfig(raw)
		assert.Error(t, err, "%v", raw)
	}
}

func TestSQLStore_DuckDB(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE puffer_experiment (id INTEGER, data VARCHAR)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO puffer_experiment VALUES
		(1, '{"abr":"bba","cc":"cubic"}'),
		(2, '{"abr":"bola","cc":"bbr"}'),
		(3, '{"abr":"dup","cc":"x"}'),
		(3, '{"abr":"dup","cc":"y"}')`)
	require.NoError(t, err)

	store := NewSQLStore(db)
	ctx := context.Background()
	cfg, err := store.LookupExperiment(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentConfig{ABR: "bola", CC: "bbr"}, cfg)

	_, err = store.LookupExperiment(ctx, 7)
	assert.True(t, errors.Is(err, ErrUnknownExperiment))
	_, err = store.LookupExperiment(ctx, 3)
	assert.True(t, errors.Is(err, ErrUnknownExperiment))
}
