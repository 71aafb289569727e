package analysis

import (
	"math"
	"testing"

	"github.com/DengYong4088/puffer/src/expconfig"
	"github.com/DengYong4088/puffer/src/types"
)

var (
	bbaCubic = types.ConfigKey{ABR: "bba", CC: "cubic"}
	bolaBBR  = types.ConfigKey{ABR: "bola", CC: "bbr"}
)

// testResolver maps expt 1 -> bba+cubic, 2 -> bola+bbr, 3 -> bba+cubic.
func testResolver() *expconfig.Resolver {
	return expconfig.NewResolver(expconfig.MapStore{
		1: {ABR: "bba", CC: "cubic"},
		2: {ABR: "bola", CC: "bbr"},
		3: {ABR: "bba", CC: "cubic"},
	})
}

func abs(v float64) float64 { return math.Abs(v) }

func TestPercentile_LinearInterpolation(t *testing.T) {
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = float64(i+1) / 100
	}
	if got := Percentile(vals, 95); abs(got-0.9505) > 1e-9 {
		t.Fatalf("p95 got %.6f want 0.950500", got)
	}
	if got := Percentile(vals, 50); abs(got-0.505) > 1e-9 {
		t.Fatalf("p50 got %.6f want 0.505000", got)
	}
	if got := Percentile(vals, 0); got != 0.01 {
		t.Fatalf("p0 got %.4f", got)
	}
	if got := Percentile(vals, 100); got != 1.0 {
		t.Fatalf("p100 got %.4f", got)
	}
}

func TestPercentile_UnsortedInputUntouched(t *testing.T) {
	in := []float64{3, 1, 2}
	if got := Percentile(in, 50); got != 2 {
		t.Fatalf("median got %v want 2", got)
	}
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Fatalf("input was reordered: %v", in)
	}
	if got := Percentile([]float64{0.4}, 95); got != 0.4 {
		t.Fatalf("single value p95 got %v", got)
	}
	if got := Percentile(nil, 95); !math.IsNaN(got) {
		t.Fatalf("empty input should be NaN, got %v", got)
	}
}

func TestSortedKeys(t *testing.T) {
	m := map[types.ConfigKey]int{bolaBBR: 1, bbaCubic: 2, {ABR: "bba", CC: "bbr"}: 3}
	keys := SortedKeys(m)
	want := []types.ConfigKey{{ABR: "bba", CC: "bbr"}, bbaCubic, bolaBBR}
	if len(keys) != len(want) {
		t.Fatalf("got %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d]=%v want %v", i, keys[i], want[i])
		}
	}
}

func TestJoin_ReportsMissingBothWays(t *testing.T) {
	q := QualityResult{DB: map[types.ConfigKey]float64{bbaCubic: 16.9, bolaBBR: 13.0}}
	r := RebufferResult{
		P95Pct:    map[types.ConfigKey]float64{bbaCubic: 5, {ABR: "x", CC: "y"}: 1},
		TotalPlay: map[types.ConfigKey]float64{bbaCubic: 120, {ABR: "x", CC: "y"}: 60},
	}
	joined, missing := Join(q, r)
	if len(joined) != 1 || joined[0].Key != bbaCubic || joined[0].TotalPlaySeconds != 120 || joined[0].RebufferP95Pct != 5 {
		t.Fatalf("unexpected joined %+v", joined)
	}
	if len(missing) != 2 || missing[0] != bolaBBR || missing[1] != (types.ConfigKey{ABR: "x", CC: "y"}) {
		t.Fatalf("unexpected missing %v", missing)
	}
}

func TestZeroPlayTimeError_Message(t *testing.T) {
	err := &ZeroPlayTimeError{Key: bbaCubic}
	if err.Error() != "bba+cubic: total play time is 0" {
		t.Fatalf("message %q", err.Error())
	}
}
