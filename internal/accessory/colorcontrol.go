package accessory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/catalog"
	"github.com/dokzlo13/hubspaced/internal/color"
	"github.com/dokzlo13/hubspaced/internal/device"
)

type colorMode int

const (
	modeTemperature colorMode = iota
	modeRGB
)

func (m colorMode) String() string {
	if m == modeRGB {
		return "rgb"
	}
	return "temperature"
}

// colorController arbitrates between the RGB and white-temperature
// attributes of a light. Hue, Saturation and ColorTemperature all go
// through it so color writes are ordered.
type colorController struct {
	rgb  *attribute
	temp *attribute
	mode *attribute

	kelvinMin  float64
	kelvinMax  float64
	kelvinStep float64

	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	state colorState
}

func newColorController(dev device.LogicalDevice, io ValueIO, opts Options) *colorController {
	cc := &colorController{
		kelvinMin:  opts.KelvinMin,
		kelvinMax:  opts.KelvinMax,
		kelvinStep: 1,
		window:     opts.PairingWindow,
		now:        opts.Now,
	}
	if b, ok := dev.Binding(catalog.ColorRGB); ok {
		a := newAttribute(io, dev, b)
		cc.rgb = &a
	}
	if b, ok := dev.Binding(catalog.ColorTemperature); ok {
		a := newAttribute(io, dev, b)
		cc.temp = &a
		if r := b.Range; r != nil {
			cc.kelvinMin, cc.kelvinMax = r.Min, r.Max
			if r.Step > 0 {
				cc.kelvinStep = r.Step
			}
		}
	}
	if b, ok := dev.Binding(catalog.ColorMode); ok {
		a := newAttribute(io, dev, b)
		cc.mode = &a
	}
	return cc
}

// currentMode reads the color-mode attribute. Without one, the mode follows
// from the bound attributes; a light with both prefers temperature.
func (cc *colorController) currentMode(ctx context.Context) (colorMode, error) {
	if cc.mode != nil {
		rgb, err := cc.mode.readBool(ctx)
		if err != nil {
			return 0, err
		}
		if rgb {
			return modeRGB, nil
		}
		return modeTemperature, nil
	}
	if cc.rgb != nil && cc.temp == nil {
		return modeRGB, nil
	}
	return modeTemperature, nil
}

func (cc *colorController) setMode(ctx context.Context, m colorMode) error {
	if cc.mode == nil {
		return nil
	}
	return cc.mode.write(ctx, m == modeRGB)
}

func (cc *colorController) readRGB(ctx context.Context) (color.RGB, error) {
	raw, err := cc.rgb.readString(ctx)
	if err != nil {
		return color.RGB{}, err
	}
	c, err := color.HexToRGB(raw)
	if err != nil {
		log.Warn().Err(err).
			Str("device", cc.rgb.deviceID).
			Str("value", raw).
			Msg("Unparseable RGB value")
		return color.RGB{}, fmt.Errorf("%w: %v", ErrNotResponding, err)
	}
	return c, nil
}

func (cc *colorController) readKelvin(ctx context.Context) (float64, error) {
	k, err := cc.temp.readInt(ctx)
	if err != nil {
		return 0, err
	}
	return float64(k), nil
}

// kelvinToMired maps the vendor Kelvin range onto the host Mired range.
// Warm ends line up: kelvinMin is MiredMax.
func (cc *colorController) kelvinToMired(k float64) int {
	m, err := color.NormalizeValue(k, cc.kelvinMin, cc.kelvinMax, color.MiredMax, color.MiredMin, 1)
	if err != nil {
		return color.MiredMax
	}
	return int(color.Clamp(m, color.MiredMin, color.MiredMax))
}

func (cc *colorController) miredToKelvin(m float64) int {
	m = color.Clamp(m, color.MiredMin, color.MiredMax)
	k, err := color.NormalizeValue(m, color.MiredMax, color.MiredMin, cc.kelvinMin, cc.kelvinMax, cc.kelvinStep)
	if err != nil {
		return int(cc.kelvinMin)
	}
	return int(color.Clamp(k, cc.kelvinMin, cc.kelvinMax))
}

// currentColor is the light's color expressed as RGB, whichever mode it is in.
func (cc *colorController) currentColor(ctx context.Context) (color.RGB, error) {
	m, err := cc.currentMode(ctx)
	if err != nil {
		return color.RGB{}, err
	}
	if (m == modeTemperature || cc.rgb == nil) && cc.temp != nil {
		k, err := cc.readKelvin(ctx)
		if err != nil {
			return color.RGB{}, err
		}
		return color.KelvinToRGB(k), nil
	}
	return cc.readRGB(ctx)
}

func (cc *colorController) hsv(ctx context.Context) (color.HSV, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	c, err := cc.currentColor(ctx)
	if err != nil {
		return color.HSV{}, err
	}
	return color.RGBToHSV(c), nil
}

func (cc *colorController) mired(ctx context.Context) (int, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	m, err := cc.currentMode(ctx)
	if err != nil {
		return 0, err
	}
	if m == modeRGB && cc.rgb != nil {
		c, err := cc.readRGB(ctx)
		if err != nil {
			return 0, err
		}
		return color.RGBToMired(c, color.MiredMin, color.MiredMax), nil
	}
	k, err := cc.readKelvin(ctx)
	if err != nil {
		return 0, err
	}
	return cc.kelvinToMired(k), nil
}

func (cc *colorController) setMired(ctx context.Context, m float64) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.state.reset()
	if err := cc.setMode(ctx, modeTemperature); err != nil {
		return err
	}
	return cc.temp.write(ctx, cc.miredToKelvin(m))
}

// setComponent writes one of Hue or Saturation. The other component comes
// from a pending write when one is fresh, otherwise from the stored RGB value.
// Value is always written at 100.
func (cc *colorController) setComponent(ctx context.Context, kind Pending, v float64) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := cc.now()

	if err := cc.setMode(ctx, modeRGB); err != nil {
		cc.state.reset()
		return err
	}

	hsv := color.HSV{V: 100}
	other, paired := cc.state.pending(kind.other(), now, cc.window)
	if !paired {
		cur, err := cc.readRGB(ctx)
		if err != nil {
			cc.state.reset()
			return err
		}
		stored := color.RGBToHSV(cur)
		if kind == PendingHue {
			other = stored.S
		} else {
			other = stored.H
		}
	}

	if kind == PendingHue {
		hsv.H, hsv.S = v, other
	} else {
		hsv.H, hsv.S = other, v
	}

	if err := cc.rgb.write(ctx, color.RGBToHex(color.HSVToRGB(hsv))); err != nil {
		cc.state.reset()
		return err
	}

	if paired {
		cc.state.reset()
	} else {
		cc.state.record(kind, v, now)
	}
	return nil
}

// pendingState is exposed to tests.
func (cc *colorController) pendingState() (Pending, float64) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.state.kind, cc.state.value
}

type hueCap struct{ cc *colorController }

func (c *hueCap) Characteristic() Characteristic { return Hue }

func (c *hueCap) Get(ctx context.Context) (any, error) {
	hsv, err := c.cc.hsv(ctx)
	if err != nil {
		return nil, err
	}
	return int(math.Round(hsv.H)) % 360, nil
}

func (c *hueCap) Set(ctx context.Context, value any) error {
	n, err := toInt(value)
	if err != nil {
		return err
	}
	return c.cc.setComponent(ctx, PendingHue, color.Clamp(float64(n), 0, 360))
}

type saturationCap struct{ cc *colorController }

func (c *saturationCap) Characteristic() Characteristic { return Saturation }

func (c *saturationCap) Get(ctx context.Context) (any, error) {
	hsv, err := c.cc.hsv(ctx)
	if err != nil {
		return nil, err
	}
	return int(math.Round(hsv.S)), nil
}

func (c *saturationCap) Set(ctx context.Context, value any) error {
	n, err := toInt(value)
	if err != nil {
		return err
	}
	return c.cc.setComponent(ctx, PendingSaturation, color.Clamp(float64(n), 0, 100))
}

type temperatureCap struct{ cc *colorController }

func (c *temperatureCap) Characteristic() Characteristic { return ColorTemperature }

func (c *temperatureCap) Get(ctx context.Context) (any, error) {
	return c.cc.mired(ctx)
}

func (c *temperatureCap) Set(ctx context.Context, value any) error {
	n, err := toInt(value)
	if err != nil {
		return err
	}
	return c.cc.setMired(ctx, float64(n))
}
