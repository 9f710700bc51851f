package processor

import (
	"fmt"
	"image/color"
	"math"

	"github.com/nci/lakeice/utils"
)

// RampSize is the number of colours of a ramp; scaled byte values index
// into it and NoDataByte falls outside.
const RampSize = NoDataByte

func lerpUint8(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}

func lerpColour(a, b color.RGBA, t float64) color.RGBA {
	return color.RGBA{lerpUint8(a.R, b.R, t), lerpUint8(a.G, b.G, t), lerpUint8(a.B, b.B, t), 255}
}

// ColourRamp spreads the stops of palette evenly over RampSize colours.
// With Interpolate the colours between two stops blend linearly and the
// ramp starts and ends exactly on the first and last stop; otherwise each
// stop fills an equal section.
func ColourRamp(palette *utils.Palette) ([]color.RGBA, error) {
	if palette == nil || len(palette.Colours) == 0 {
		return nil, fmt.Errorf("empty colour palette")
	}
	stops := palette.Colours
	ramp := make([]color.RGBA, RampSize)

	if len(stops) == 1 {
		for i := range ramp {
			ramp[i] = stops[0]
		}
		return ramp, nil
	}

	if palette.Interpolate {
		sections := float64(len(stops) - 1)
		for i := range ramp {
			pos := float64(i) / float64(RampSize-1) * sections
			sec := int(pos)
			if sec >= len(stops)-1 {
				sec = len(stops) - 2
			}
			ramp[i] = lerpColour(stops[sec], stops[sec+1], pos-float64(sec))
		}
		return ramp, nil
	}

	for i := range ramp {
		sec := i * len(stops) / RampSize
		ramp[i] = stops[sec]
	}
	return ramp, nil
}
