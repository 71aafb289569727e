package telemetry

import (
	"context"
	"database/sql"
	stdjson "encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb1-client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DengYong4088/puffer/src/types"
)

var now = time.Date(2019, 2, 1, 12, 0, 0, 0, time.UTC)

func TestDecodeBufferEvent_MixedShapes(t *testing.T) {
	r := Row{
		"expt_id":   "7", // tags come back as strings
		"init_id":   stdjson.Number("123456"),
		"user":      "alice",
		"channel":   "nbc",
		"event":     "startup",
		"time":      "2019-02-01T10:00:00.5Z",
		"cum_rebuf": stdjson.Number("1.25"),
	}
	e, err := DecodeBufferEvent(r)
	require.NoError(t, err)
	assert.Equal(t, types.BufferEvent{
		ExptID: 7, InitID: 123456, User: "alice", Channel: "nbc", Event: "startup",
		Time: time.Date(2019, 2, 1, 10, 0, 0, 500000000, time.UTC), CumRebuf: 1.25,
	}, e)

	// driver-native types
	r = Row{
		"expt_id": int64(7), "init_id": int32(9), "user": "bob", "channel": "cbs", "event": "timer",
		"time": now.In(time.FixedZone("X", 3600)), "cum_rebuf": float64(0),
	}
	e, err = DecodeBufferEvent(r)
	require.NoError(t, err)
	assert.Equal(t, 9, e.InitID)
	assert.Equal(t, time.UTC, e.Time.Location())
	assert.True(t, now.Equal(e.Time))
}

func TestDecodeBufferEvent_Errors(t *testing.T) {
	good := Row{"expt_id": 1, "init_id": 2, "user": "u", "channel": "c", "event": "timer", "time": now, "cum_rebuf": 0.0}
	for col, bad := range map[string]any{
		"expt_id":   "seven",
		"init_id":   1.5,
		"cum_rebuf": "lots",
		"time":      "yesterday",
	} {
		r := Row{}
		for k, v := range good {
			r[k] = v
		}
		r[col] = bad
		_, err := DecodeBufferEvent(r)
		require.Error(t, err, col)
		assert.Contains(t, err.Error(), col)
	}
	r := Row{}
	for k, v := range good {
		r[k] = v
	}
	delete(r, "user")
	_, err := DecodeBufferEvent(r)
	assert.ErrorContains(t, err, `missing column "user"`)
}

func TestDecodeQualityPoint(t *testing.T) {
	pt, err := DecodeQualityPoint(Row{"expt_id": stdjson.Number("3"), "ssim_index": stdjson.Number("0.98")})
	require.NoError(t, err)
	assert.Equal(t, 3, pt.ExptID)
	require.NotNil(t, pt.SSIMIndex)
	assert.InDelta(t, 0.98, *pt.SSIMIndex, 1e-12)
	assert.Nil(t, pt.SSIMdB)

	pt, err = DecodeQualityPoint(Row{"expt_id": 3, "ssim_index": nil, "ssim": 17.5})
	require.NoError(t, err)
	assert.Nil(t, pt.SSIMIndex)
	require.NotNil(t, pt.SSIMdB)

	pt, err = DecodeQualityPoint(Row{"expt_id": 3, "ssim_index": "n/a"})
	require.NoError(t, err)
	_, ok := pt.Index()
	assert.False(t, ok)

	_, err = DecodeQualityPoint(Row{"ssim_index": 0.9})
	assert.Error(t, err)
}

func TestWindowStart(t *testing.T) {
	assert.Equal(t, now.Add(-72*time.Hour), WindowStart(now, 3))
}

func TestInfluxQueryAndSeriesRows(t *testing.T) {
	q := influxQuery(MeasurementClientBuffer, now.Add(-24*time.Hour))
	assert.Equal(t, "SELECT * FROM client_buffer WHERE time >= '2019-01-31T12:00:00Z'", q)

	rows := seriesRows(models.Row{
		Name:    "client_buffer",
		Tags:    map[string]string{"expt_id": "4"},
		Columns: []string{"time", "user", "cum_rebuf"},
		Values: [][]interface{}{
			{"2019-02-01T10:00:00Z", "alice", stdjson.Number("0")},
			{"2019-02-01T10:00:05Z", "alice", stdjson.Number("0.5")},
		},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, "4", rows[1]["expt_id"])
	assert.Equal(t, stdjson.Number("0.5"), rows[1]["cum_rebuf"])
}

const dump = `{"measurement":"puffer_experiment","id":1,"data":{"abr":"bba","cc":"cubic"}}
{"measurement":"puffer_experiment","id":2,"data":{"abr":"bola","cc":"bbr","abr_name":"BOLA"}}

{"measurement":"video_acked","time":"2019-02-01T11:00:00Z","expt_id":1,"ssim_index":0.98}
{"measurement":"video_acked","time":"2019-01-20T11:00:00Z","expt_id":2,"ssim_index":0.5}
{"measurement":"client_buffer","time":"2019-02-01T11:00:00Z","expt_id":1,"user":"a","init_id":1,"channel":"c","event":"startup","cum_rebuf":0}
`

func TestJSONLSource_WindowAndExperiments(t *testing.T) {
	src, err := ReadJSONL(strings.NewReader(dump))
	require.NoError(t, err)
	defer src.Close()

	exps := src.Experiments()
	require.Len(t, exps, 2)
	assert.Equal(t, types.ExperimentConfig{ABR: "bola", CC: "bbr", ABRName: "BOLA"}, exps[2])

	ctx := context.Background()
	pts, err := QualityPoints(ctx, src, WindowStart(now, 1))
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, 1, pts[0].ExptID)

	pts, err = QualityPoints(ctx, src, WindowStart(now, 30))
	require.NoError(t, err)
	assert.Len(t, pts, 2)

	evs, err := BufferEvents(ctx, src, WindowStart(now, 1))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, types.EventStartup, evs[0].Event)
}

func TestReadJSONL_Errors(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader("{\"measurement\":\"video_acked\"}\n{oops\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadJSONL(strings.NewReader(`{"expt_id":1}`))
	assert.ErrorContains(t, err, "missing measurement")

	_, err = ReadJSONL(strings.NewReader(`{"measurement":"puffer_experiment","id":3,"data":{"abr":"x"}}`))
	assert.ErrorContains(t, err, "experiment 3")

	src, err := ReadJSONL(strings.NewReader(`{"measurement":"client_buffer","time":"soon"}`))
	require.NoError(t, err)
	_, err = src.Query(context.Background(), MeasurementClientBuffer, now)
	assert.ErrorContains(t, err, "line 1")
}

func TestJSONLSource_CancelledContext(t *testing.T) {
	src, err := ReadJSONL(strings.NewReader(dump))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Query(ctx, MeasurementVideoAcked, now)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDuckDBSource(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	src := NewDuckDBSource(db)
	defer src.Close()

	for _, stmt := range []string{
		`CREATE TABLE video_acked ("time" TIMESTAMP, expt_id INTEGER, ssim_index DOUBLE)`,
		`CREATE TABLE client_buffer ("time" TIMESTAMP, expt_id INTEGER, "user" VARCHAR, init_id BIGINT, channel VARCHAR, event VARCHAR, cum_rebuf DOUBLE)`,
		`INSERT INTO video_acked VALUES ('2019-02-01 11:00:00', 1, 0.98), ('2019-02-01 11:00:01', 1, NULL), ('2019-01-01 00:00:00', 1, 0.1)`,
		`INSERT INTO client_buffer VALUES ('2019-02-01 11:00:00', 1, 'alice', 5, 'nbc', 'startup', 0.0)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	ctx := context.Background()
	pts, err := QualityPoints(ctx, src, WindowStart(now, 1))
	require.NoError(t, err)
	require.Len(t, pts, 2)
	var usable int
	for _, p := range pts {
		if _, ok := p.Index(); ok {
			usable++
		}
	}
	assert.Equal(t, 1, usable)

	evs, err := BufferEvents(ctx, src, WindowStart(now, 1))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, types.SessionKey{User: "alice", InitID: 5, Channel: "nbc", ExptID: 1}, evs[0].Session())
	assert.True(t, time.Date(2019, 2, 1, 11, 0, 0, 0, time.UTC).Equal(evs[0].Time))

	_, err = src.Query(ctx, "users; DROP TABLE video_acked", now)
	assert.Error(t, err)
}
