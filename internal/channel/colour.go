package channel

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// DefaultHues is the number of distinct hues in the positional colour map.
const DefaultHues = 9

// ColourMap assigns a deterministic colour to each channel position by
// stepping around the HSV hue wheel at full saturation and value.
type ColourMap struct {
	Hues int
}

// Colour returns the colour of position i.
func (m ColourMap) Colour(i int) color.RGBA {
	hues := m.Hues
	if hues <= 0 {
		hues = DefaultHues
	}
	i %= hues
	if i < 0 {
		i += hues
	}
	return hsv(float64(i)/float64(hues), 1, 1)
}

// hsv converts h, s, v in [0, 1] to opaque RGBA.
func hsv(h, s, v float64) color.RGBA {
	h = math.Mod(h, 1) * 6
	sector := math.Floor(h)
	f := h - sector
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64
	switch int(sector) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: to8(r), G: to8(g), B: to8(b), A: 0xff}
}

func to8(x float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, x)) * 255))
}

// HexColour formats c as #rrggbb.
func HexColour(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseHexColour accepts #rrggbb or #rrggbbaa, with or without the hash.
func ParseHexColour(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return color.RGBA{}, fmt.Errorf("colour %q is not #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("colour %q: %w", s, err)
	}
	if len(s) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
