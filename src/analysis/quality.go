package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/DengYong4088/puffer/src/types"
)

// QualityResult holds the average SSIM (dB) per configuration. Configurations
// without a single usable SSIM value are absent from DB.
type QualityResult struct {
	DB      map[types.ConfigKey]float64
	Used    int
	Skipped int
}

// SSIMIndexToDB converts a linear SSIM index to dB: -10*log10(1-index).
// It is strictly increasing on index < 1; index >= 1 (or NaN) is a domain error.
func SSIMIndexToDB(index float64) (float64, error) {
	x := 1 - index
	if !(x > 0) {
		return 0, fmt.Errorf("%w: ssim index %v has no dB value", ErrDomain, index)
	}
	return -10 * math.Log10(x), nil
}

// AggregateQuality groups points by configuration and returns the mean SSIM
// index of each group converted to dB. Every point is resolved, including those
// later skipped for lacking an SSIM value, so unknown experiment ids always fail.
func AggregateQuality(ctx context.Context, resolver KeyResolver, points []types.QualityPoint) (QualityResult, error) {
	res := QualityResult{DB: map[types.ConfigKey]float64{}}
	x := map[types.ConfigKey][]float64{}
	for _, pt := range points {
		key, err := resolver.ResolveKey(ctx, pt.ExptID)
		if err != nil {
			return res, err
		}
		idx, ok := pt.Index()
		if !ok {
			res.Skipped++
			continue
		}
		x[key] = append(x[key], idx)
		res.Used++
	}
	for _, key := range SortedKeys(x) {
		db, err := SSIMIndexToDB(mean(x[key]))
		if err != nil {
			return res, fmt.Errorf("%s: %w", key, err)
		}
		res.DB[key] = db
	}
	return res, nil
}
