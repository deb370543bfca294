// Package color converts between the color representations used by the
// Hubspace cloud (packed RGB hex, Kelvin) and the host (HSV, Mired).
package color

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyRange is returned when a source range has zero width.
var ErrEmptyRange = errors.New("input range is empty")

// Host color temperature bounds in Mired.
const (
	MiredMin = 140
	MiredMax = 500
)

// RGB is an 8-bit color triple. Channels are kept in 0-255.
type RGB struct {
	R, G, B int
}

// HSV holds hue in [0,360) and saturation/value in [0,100].
type HSV struct {
	H, S, V float64
}

// Clamp limits v to [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NormalizeValue remaps x from [inMin, inMax] onto [outMin, outMax] and rounds
// the result to the nearest multiple of step. Reversed ranges are allowed.
// A step <= 0 disables rounding.
func NormalizeValue(x, inMin, inMax, outMin, outMax, step float64) (float64, error) {
	if inMin == inMax {
		return 0, fmt.Errorf("normalize [%v,%v]: %w", inMin, inMax, ErrEmptyRange)
	}

	v := (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
	if step <= 0 {
		return v, nil
	}
	return math.Round(v/step) * step, nil
}

// HexToRGB parses a six digit hex color. A leading '#' is accepted.
func HexToRGB(hex string) (RGB, error) {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("invalid hex color %q", hex)
	}

	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}

	return RGB{
		R: int(n>>16) & 0xFF,
		G: int(n>>8) & 0xFF,
		B: int(n) & 0xFF,
	}, nil
}

// RGBToHex formats c as six uppercase hex digits without a prefix.
func RGBToHex(c RGB) string {
	return fmt.Sprintf("%02X%02X%02X", channel(float64(c.R)), channel(float64(c.G)), channel(float64(c.B)))
}

// RGBToHSV converts an 8-bit color to HSV. The result is not rounded.
func RGBToHSV(c RGB) HSV {
	r := float64(c.R) / 255
	g := float64(c.G) / 255
	b := float64(c.B) / 255

	mx := math.Max(r, math.Max(g, b))
	mn := math.Min(r, math.Min(g, b))
	delta := mx - mn

	var h float64
	switch {
	case delta == 0:
		h = 0
	case mx == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case mx == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h -= 360
	}

	var s float64
	if mx != 0 {
		s = delta / mx
	}

	return HSV{H: h, S: s * 100, V: mx * 100}
}

// HSVToRGB converts HSV to an 8-bit color, rounding each channel.
func HSVToRGB(c HSV) RGB {
	h := math.Mod(c.H, 360)
	if h < 0 {
		h += 360
	}
	s := Clamp(c.S, 0, 100) / 100
	v := Clamp(c.V, 0, 100) / 100

	chroma := v * s
	x := chroma * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - chroma

	var r1, g1, b1 float64
	switch {
	case h < 60:
		r1, g1, b1 = chroma, x, 0
	case h < 120:
		r1, g1, b1 = x, chroma, 0
	case h < 180:
		r1, g1, b1 = 0, chroma, x
	case h < 240:
		r1, g1, b1 = 0, x, chroma
	case h < 300:
		r1, g1, b1 = x, 0, chroma
	default:
		r1, g1, b1 = chroma, 0, x
	}

	return RGB{
		R: channel((r1 + m) * 255),
		G: channel((g1 + m) * 255),
		B: channel((b1 + m) * 255),
	}
}

// KelvinToRGB approximates the color of a black body at the given
// temperature (Tanner Helland's fit, valid for 1000K-40000K).
func KelvinToRGB(kelvin float64) RGB {
	t := Clamp(kelvin, 1000, 40000) / 100

	var r, g, b float64

	if t <= 66 {
		r = 255
		g = 99.4708025861*math.Log(t) - 161.1195681661
	} else {
		r = 329.698727446 * math.Pow(t-60, -0.1332047592)
		g = 288.1221695283 * math.Pow(t-60, -0.0755148492)
	}

	switch {
	case t >= 66:
		b = 255
	case t <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(t-10) - 305.0447927307
	}

	return RGB{R: channel(r), G: channel(g), B: channel(b)}
}

// RGBToKelvin estimates the correlated color temperature of c using the
// sRGB -> CIE XYZ -> xy chromaticity path and McCamy's approximation.
// ok is false for black or colors with no meaningful temperature.
func RGBToKelvin(c RGB) (kelvin float64, ok bool) {
	r := linearize(float64(c.R) / 255)
	g := linearize(float64(c.G) / 255)
	b := linearize(float64(c.B) / 255)

	// sRGB D65
	x := 0.4124*r + 0.3576*g + 0.1805*b
	y := 0.2126*r + 0.7152*g + 0.0722*b
	z := 0.0193*r + 0.1192*g + 0.9505*b

	sum := x + y + z
	if sum == 0 {
		return 0, false
	}
	cx := x / sum
	cy := y / sum
	if cy == 0.1858 {
		return 0, false
	}

	n := (cx - 0.3320) / (0.1858 - cy)
	cct := 449*n*n*n + 3525*n*n + 6823.3*n + 5520.33
	if cct <= 0 || math.IsNaN(cct) || math.IsInf(cct, 0) {
		return 0, false
	}
	return cct, true
}

// RGBToMired converts c to a color temperature in Mired, clamped to
// [min, max]. Colors without a usable temperature map to max (warmest).
func RGBToMired(c RGB, min, max int) int {
	kelvin, ok := RGBToKelvin(c)
	if !ok {
		return max
	}
	mired := math.Round(1_000_000 / kelvin)
	return int(Clamp(mired, float64(min), float64(max)))
}

func linearize(v float64) float64 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

func channel(v float64) int {
	return int(Clamp(math.Round(v), 0, 255))
}
