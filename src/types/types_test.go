package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestQualityPoint_Index(t *testing.T) {
	idx, ok := QualityPoint{SSIMIndex: f64(0.97)}.Index()
	require.True(t, ok)
	assert.InDelta(t, 0.97, idx, 1e-12)

	// dB fallback: 20 dB -> 0.99
	idx, ok = QualityPoint{SSIMdB: f64(20)}.Index()
	require.True(t, ok)
	assert.InDelta(t, 0.99, idx, 1e-12)

	// index wins over dB when both are present
	idx, ok = QualityPoint{SSIMIndex: f64(0.5), SSIMdB: f64(20)}.Index()
	require.True(t, ok)
	assert.InDelta(t, 0.5, idx, 1e-12)

	_, ok = QualityPoint{}.Index()
	assert.False(t, ok)
	_, ok = QualityPoint{SSIMIndex: f64(math.NaN())}.Index()
	assert.False(t, ok)
}

func TestConfigKey_StringAndOrder(t *testing.T) {
	a := ConfigKey{ABR: "bba", CC: "cubic"}
	b := ConfigKey{ABR: "bola", CC: "bbr"}
	c := ConfigKey{ABR: "bba", CC: "bbr"}
	assert.Equal(t, "bba+cubic", a.String())
	assert.True(t, a.Less(b))
	assert.True(t, c.Less(a))
	assert.False(t, a.Less(a))
	assert.Equal(t, a, ExperimentConfig{ABR: "bba", CC: "cubic", ABRName: "BBA"}.Key())
}

func TestBufferEvent_Session(t *testing.T) {
	e := BufferEvent{ExptID: 3, User: "u", InitID: 42, Channel: "nbc"}
	assert.Equal(t, SessionKey{User: "u", InitID: 42, Channel: "nbc", ExptID: 3}, e.Session())
	assert.Equal(t, "u/42/nbc/3", e.Session().String())
}

func TestParseTime(t *testing.T) {
	want := time.Date(2019, 4, 1, 12, 30, 15, 250000000, time.UTC)
	for _, s := range []string{
		"2019-04-01T12:30:15.25Z",
		"2019-04-01T12:30:15.250000Z",
		"2019-04-01T14:30:15.25+02:00",
	} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s -> %s", s, got)
	}
	got, err := ParseTime("2019-04-01T12:30:15Z")
	require.NoError(t, err)
	assert.Equal(t, want.Truncate(time.Second), got)

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
