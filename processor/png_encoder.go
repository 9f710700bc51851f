package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/nci/lakeice/utils"
)

// NoDataByte marks invalid pixels in a scaled band.
const NoDataByte = 0xFF

// ScaleBand maps values linearly from [min, max] onto 0..254, clipping
// outside the range. Invalid pixels become NoDataByte.
func ScaleBand(b *Band, min, max float64) []uint8 {
	out := make([]uint8, len(b.Data))
	span := max - min
	for i, v := range b.Data {
		if math.IsNaN(v) {
			out[i] = NoDataByte
			continue
		}
		var s float64
		if span > 0 {
			s = (v - min) / span
		}
		if s < 0 {
			s = 0
		} else if s > 1 {
			s = 1
		}
		out[i] = uint8(math.Round(s * 254))
	}
	return out
}

// RenderPNG draws b with the stretch and palette of vis. Invalid pixels
// are transparent.
func RenderPNG(b *Band, vis VisualizationParams) ([]byte, error) {
	if b.Empty() || b.Width <= 0 || b.Height <= 0 {
		return nil, fmt.Errorf("nothing to render")
	}
	palette := &utils.Palette{Interpolate: true}
	for _, stop := range vis.Palette {
		c, err := utils.ParseColour(stop)
		if err != nil {
			return nil, err
		}
		palette.Colours = append(palette.Colours, c)
	}
	if len(palette.Colours) < 2 {
		return nil, fmt.Errorf("The colour palette must contain at least 2 colours.")
	}
	plt, err := ColourRamp(palette)
	if err != nil {
		return nil, err
	}

	min, max := vis.Min, vis.Max
	if math.IsNaN(min) || math.IsNaN(max) {
		min, max = 0, 0
	}
	data := ScaleBand(b, min, max)

	canvas := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			if v := data[y*b.Width+x]; v != NoDataByte {
				canvas.Set(x, y, plt[v])
			}
		}
	}

	buf := new(bytes.Buffer)
	err = png.Encode(buf, canvas)
	return buf.Bytes(), err
}
