package accessory

import (
	"github.com/dokzlo13/hubspaced/internal/catalog"
	"github.com/dokzlo13/hubspaced/internal/device"
)

// fanCapabilities exposes Active and RotationSpeed, plus the light kit of
// ceiling fans when present.
func fanCapabilities(dev device.LogicalDevice, io ValueIO, _ Options) []Capability {
	var caps []Capability

	if b, ok := dev.Binding(catalog.Active); ok {
		caps = append(caps, &activeFlag{attr: newAttribute(io, dev, b)})
	}
	if b, ok := dev.Binding(catalog.RotationSpeed); ok {
		caps = append(caps, &percent{attr: newAttribute(io, dev, b), name: RotationSpeed, step: 25})
	}
	if b, ok := dev.Binding(catalog.Power); ok {
		caps = append(caps, &onOff{attr: newAttribute(io, dev, b), name: On})
	}
	if b, ok := dev.Binding(catalog.Brightness); ok {
		caps = append(caps, &percent{attr: newAttribute(io, dev, b), name: Brightness})
	}
	return caps
}

// switchCapabilities serves outlets and transformer zones: a single On.
func switchCapabilities(dev device.LogicalDevice, io ValueIO) []Capability {
	b, ok := dev.Binding(catalog.Power)
	if !ok {
		return nil
	}
	return []Capability{&onOff{attr: newAttribute(io, dev, b), name: On}}
}
