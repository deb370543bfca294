package accessory

import (
	"context"

	"github.com/dokzlo13/hubspaced/internal/catalog"
	"github.com/dokzlo13/hubspaced/internal/color"
	"github.com/dokzlo13/hubspaced/internal/device"
)

func lightCapabilities(dev device.LogicalDevice, io ValueIO, opts Options) []Capability {
	var caps []Capability

	if b, ok := dev.Binding(catalog.Power); ok {
		caps = append(caps, &onOff{attr: newAttribute(io, dev, b), name: On})
	}
	if b, ok := dev.Binding(catalog.Brightness); ok {
		caps = append(caps, &percent{attr: newAttribute(io, dev, b), name: Brightness})
	}

	cc := newColorController(dev, io, opts)
	if cc.rgb != nil {
		caps = append(caps, &hueCap{cc}, &saturationCap{cc})
	}
	if cc.temp != nil {
		caps = append(caps, &temperatureCap{cc})
	}
	return caps
}

// onOff maps a vendor boolean to a host boolean.
type onOff struct {
	attr attribute
	name Characteristic
}

func (c *onOff) Characteristic() Characteristic { return c.name }

func (c *onOff) Get(ctx context.Context) (any, error) {
	return c.attr.readBool(ctx)
}

func (c *onOff) Set(ctx context.Context, value any) error {
	on, err := toBool(value)
	if err != nil {
		return err
	}
	return c.attr.write(ctx, on)
}

// activeFlag maps a vendor boolean to a host 0/1 integer.
type activeFlag struct {
	attr attribute
}

func (c *activeFlag) Characteristic() Characteristic { return Active }

func (c *activeFlag) Get(ctx context.Context) (any, error) {
	on, err := c.attr.readBool(ctx)
	if err != nil {
		return nil, err
	}
	if on {
		return 1, nil
	}
	return 0, nil
}

func (c *activeFlag) Set(ctx context.Context, value any) error {
	on, err := toBool(value)
	if err != nil {
		return err
	}
	return c.attr.write(ctx, on)
}

// percent maps a vendor number to 0-100, using the binding range when the
// vendor reports one. A non-zero step rounds the host value.
type percent struct {
	attr attribute
	name Characteristic
	step float64
}

func (c *percent) Characteristic() Characteristic { return c.name }

func (c *percent) Get(ctx context.Context) (any, error) {
	raw, err := c.attr.readInt(ctx)
	if err != nil {
		return nil, err
	}
	v := float64(raw)
	if r := c.attr.binding.Range; r != nil {
		step := c.step
		if step <= 0 {
			step = 1
		}
		v, err = color.NormalizeValue(v, r.Min, r.Max, 0, 100, step)
		if err != nil {
			return nil, err
		}
	}
	return int(color.Clamp(v, 0, 100)), nil
}

func (c *percent) Set(ctx context.Context, value any) error {
	n, err := toInt(value)
	if err != nil {
		return err
	}
	v := color.Clamp(float64(n), 0, 100)

	if r := c.attr.binding.Range; r != nil {
		step := r.Step
		if step <= 0 {
			step = 1
		}
		v, err = color.NormalizeValue(v, 0, 100, r.Min, r.Max, step)
		if err != nil {
			return err
		}
		v = color.Clamp(v, r.Min, r.Max)
	}
	return c.attr.write(ctx, int(v))
}
