// Package accessory translates host characteristic reads and writes into
// Hubspace attribute reads and writes.
//
// An Accessory is a set of capabilities built from the bindings of one
// logical device. Each capability handles a single host characteristic.
package accessory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dokzlo13/hubspaced/internal/catalog"
	"github.com/dokzlo13/hubspaced/internal/device"
)

// Characteristic is a host characteristic name.
type Characteristic string

const (
	On               Characteristic = "On"
	Brightness       Characteristic = "Brightness"
	Hue              Characteristic = "Hue"
	Saturation       Characteristic = "Saturation"
	ColorTemperature Characteristic = "ColorTemperature"
	Active           Characteristic = "Active"
	RotationSpeed    Characteristic = "RotationSpeed"
)

// Service is the host service an accessory is exposed as.
type Service string

const (
	ServiceLightbulb Service = "Lightbulb"
	ServiceFan       Service = "Fanv2"
	ServiceOutlet    Service = "Outlet"
	ServiceSwitch    Service = "Switch"
)

var (
	// ErrNotResponding means the vendor returned no usable value or
	// rejected a write. It applies to the single request only.
	ErrNotResponding = errors.New("device not responding")

	// ErrUnknownCharacteristic is returned for characteristics the
	// accessory does not expose.
	ErrUnknownCharacteristic = errors.New("unknown characteristic")

	// ErrInvalidValue is returned when a written value has the wrong type.
	ErrInvalidValue = errors.New("invalid value")
)

// ValueIO reads and writes vendor attributes.
type ValueIO interface {
	ReadAttribute(ctx context.Context, deviceID, key string) (string, error)
	WriteAttribute(ctx context.Context, deviceID, key string, value any) error
}

// Capability handles one host characteristic.
type Capability interface {
	Characteristic() Characteristic
	Get(ctx context.Context) (any, error)
	Set(ctx context.Context, value any) error
}

// Information is shown in the host's accessory information service.
type Information struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serialNumber"`
}

// Options tune value translation.
type Options struct {
	// KelvinMin and KelvinMax are used when a light does not report its
	// color temperature range.
	KelvinMin float64
	KelvinMax float64

	// PairingWindow is how long a Hue or Saturation write is remembered
	// for pairing with the other component.
	PairingWindow time.Duration

	Now func() time.Time
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		KelvinMin:     2200,
		KelvinMax:     6500,
		PairingWindow: 2 * time.Second,
		Now:           time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.KelvinMin <= 0 {
		o.KelvinMin = d.KelvinMin
	}
	if o.KelvinMax <= o.KelvinMin {
		o.KelvinMax = d.KelvinMax
	}
	if o.PairingWindow <= 0 {
		o.PairingWindow = d.PairingWindow
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Accessory is the runtime handler for one logical device.
type Accessory struct {
	device  device.LogicalDevice
	service Service
	caps    []Capability
	byName  map[Characteristic]Capability
}

// New builds the accessory for a logical device. It panics when the device
// type has no accessory implementation, since the mapper only produces
// types from the catalog.
func New(dev device.LogicalDevice, io ValueIO, opts Options) *Accessory {
	opts = opts.withDefaults()

	var (
		service Service
		caps    []Capability
	)
	switch dev.Type {
	case catalog.TypeLight:
		service, caps = ServiceLightbulb, lightCapabilities(dev, io, opts)
	case catalog.TypeFan:
		service, caps = ServiceFan, fanCapabilities(dev, io, opts)
	case catalog.TypeOutlet:
		service, caps = ServiceOutlet, switchCapabilities(dev, io)
	case catalog.TypeTransformer:
		service, caps = ServiceSwitch, switchCapabilities(dev, io)
	default:
		panic(fmt.Sprintf("accessory: no implementation for device type %q (device %s)", dev.Type, dev.ID))
	}

	a := &Accessory{
		device:  dev,
		service: service,
		caps:    caps,
		byName:  make(map[Characteristic]Capability, len(caps)),
	}
	for _, c := range caps {
		a.byName[c.Characteristic()] = c
	}
	return a
}

// ID returns the accessory id.
func (a *Accessory) ID() string {
	return a.device.ID
}

// Device returns the logical device the accessory is bound to.
func (a *Accessory) Device() device.LogicalDevice {
	return a.device
}

// Service returns the host service type.
func (a *Accessory) Service() Service {
	return a.service
}

// Characteristics lists the exposed characteristics.
func (a *Accessory) Characteristics() []Characteristic {
	out := make([]Characteristic, 0, len(a.caps))
	for _, c := range a.caps {
		out = append(out, c.Characteristic())
	}
	return out
}

// Get reads a characteristic.
func (a *Accessory) Get(ctx context.Context, c Characteristic) (any, error) {
	capability, ok := a.byName[c]
	if !ok {
		return nil, fmt.Errorf("%s: %w", c, ErrUnknownCharacteristic)
	}
	return capability.Get(ctx)
}

// Set writes a characteristic.
func (a *Accessory) Set(ctx context.Context, c Characteristic, value any) error {
	capability, ok := a.byName[c]
	if !ok {
		return fmt.Errorf("%s: %w", c, ErrUnknownCharacteristic)
	}
	return capability.Set(ctx, value)
}

// Information returns the accessory information, with N/A for unknowns.
func (a *Accessory) Information() Information {
	info := Information{Manufacturer: "N/A", Model: "N/A", SerialNumber: "N/A"}
	if a.device.Manufacturer != "" {
		info.Manufacturer = a.device.Manufacturer
	}
	if len(a.device.Model) > 0 && a.device.Model[0] != "" {
		info.Model = a.device.Model[0]
	}
	if a.device.DeviceID != "" {
		info.SerialNumber = a.device.DeviceID
	}
	return info
}
