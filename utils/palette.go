package utils

import (
	"encoding/hex"
	"fmt"
	"image/color"
	"strings"
)

type Palette struct {
	Interpolate bool         `json:"interpolate"`
	Colours     []color.RGBA `json:"colours"`
}

var namedColours = map[string]color.RGBA{
	"black":   {0, 0, 0, 255},
	"white":   {255, 255, 255, 255},
	"red":     {255, 0, 0, 255},
	"lime":    {0, 255, 0, 255},
	"green":   {0, 128, 0, 255},
	"blue":    {0, 0, 255, 255},
	"navy":    {0, 0, 128, 255},
	"aqua":    {0, 255, 255, 255},
	"cyan":    {0, 255, 255, 255},
	"teal":    {0, 128, 128, 255},
	"yellow":  {255, 255, 0, 255},
	"orange":  {255, 165, 0, 255},
	"purple":  {128, 0, 128, 255},
	"magenta": {255, 0, 255, 255},
	"gray":    {128, 128, 128, 255},
	"grey":    {128, 128, 128, 255},
	"silver":  {192, 192, 192, 255},
}

// ParsePalette reads a comma separated list of colour stops. A stop is a
// colour name or a hex triplet with or without the leading '#'.
func ParsePalette(stops string) (*Palette, error) {
	pal := &Palette{Interpolate: true}
	for _, s := range strings.Split(stops, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		c, err := ParseColour(s)
		if err != nil {
			return nil, err
		}
		pal.Colours = append(pal.Colours, c)
	}
	return pal, nil
}

func ParseColour(s string) (color.RGBA, error) {
	if c, ok := namedColours[s]; ok {
		return c, nil
	}
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("unknown colour %q", s)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("unknown colour %q: %v", s, err)
	}
	return color.RGBA{b[0], b[1], b[2], 255}, nil
}
