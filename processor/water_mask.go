package processor

import (
	"fmt"
	"math"

	"github.com/nci/lakeice/utils"
)

type WaterMaskOptions struct {
	WaterClass float64
	Radius     int
	Iterations int
}

func DefaultWaterMaskOptions() WaterMaskOptions {
	return WaterMaskOptions{WaterClass: utils.DefaultWaterClass, Radius: 1, Iterations: 3}
}

// BuildWaterMask derives the open water mask of a lake from a land cover
// classification. Pixels of the water class are eroded then dilated with a
// circular kernel to drop isolated false positives. The result holds 1 on
// water and is invalid elsewhere, including outside region.
func BuildWaterMask(landCover *Band, region *utils.Region, opts WaterMaskOptions) (*Band, error) {
	if landCover.Empty() {
		return nil, fmt.Errorf("water mask needs a land cover raster")
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 1
	}

	water := NewBand(landCover.Grid, WaterNS)
	for i, v := range landCover.Data {
		if math.IsNaN(v) {
			continue
		}
		if v == opts.WaterClass {
			water.Data[i] = 1
		} else {
			water.Data[i] = 0
		}
	}

	kernel := NewCircleKernel(opts.Radius)
	water = FocalMin(water, kernel, opts.Iterations)
	water = FocalMax(water, kernel, opts.Iterations)

	for i, v := range water.Data {
		if v == 0 {
			water.Data[i] = math.NaN()
		}
	}

	if region == nil {
		return water, nil
	}
	return ClipToRegion(water, region)
}

// ClipToRegion invalidates the pixels whose centre lies outside region.
// The band must be on a geographic grid in the region's CRS.
func ClipToRegion(b *Band, region *utils.Region) (*Band, error) {
	if b.CRS != utils.RegionCRS {
		return nil, &MisalignedGridError{Want: Grid{CRS: utils.RegionCRS, Width: b.Width, Height: b.Height, GeoTransform: b.GeoTransform}, Got: b.Grid}
	}
	out := b.Clone()
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			idx := y*b.Width + x
			if math.IsNaN(out.Data[idx]) {
				continue
			}
			lon, lat := b.PixelCentre(x, y)
			if !region.Contains(lon, lat) {
				out.Data[idx] = math.NaN()
			}
		}
	}
	return out, nil
}
