package processor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/nci/lakeice/utils"
)

// VisualizationParams is what a renderer needs to draw a band.
type VisualizationParams struct {
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Palette []string `json:"palette"`
}

// StretchParams computes a percentile stretch of b over region: percent of
// the valid values fall between Min and Max, the rest is split evenly
// between both tails. Min and Max are NaN without valid pixels.
func StretchParams(b *Band, region *utils.Region, percent float64, palette []string) (VisualizationParams, error) {
	vis := VisualizationParams{Min: math.NaN(), Max: math.NaN(), Palette: palette}
	vals, err := regionValues(b, region)
	if err != nil {
		return vis, err
	}
	if len(vals) == 0 {
		return vis, nil
	}
	sort.Float64s(vals)

	lower := (100 - percent) / 2
	upper := 100 - lower
	vis.Min = stat.Quantile(lower/100, stat.LinInterp, vals, nil)
	vis.Max = stat.Quantile(upper/100, stat.LinInterp, vals, nil)
	return vis, nil
}
