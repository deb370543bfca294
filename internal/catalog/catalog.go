// Package catalog is the static table of Hubspace functions the bridge knows
// how to expose. Functions not listed here are ignored, so new vendor
// functions never break discovery.
package catalog

import "fmt"

// Characteristic is a host-facing capability a vendor function resolves to.
type Characteristic string

const (
	Power            Characteristic = "power"
	Active           Characteristic = "active"
	RotationSpeed    Characteristic = "rotation-speed"
	Brightness       Characteristic = "brightness"
	ColorRGB         Characteristic = "color-rgb"
	ColorTemperature Characteristic = "color-temperature"
	ColorMode        Characteristic = "color-mode"
)

// Type is the kind of accessory a device class is exposed as.
type Type string

const (
	TypeLight       Type = "light"
	TypeFan         Type = "fan"
	TypeOutlet      Type = "outlet"
	TypeTransformer Type = "transformer"
)

// Entry is one catalog row. An empty FunctionInstance matches any instance.
type Entry struct {
	DeviceClass      string
	FunctionClass    string
	FunctionInstance string
	Characteristic   Characteristic
}

type key struct {
	deviceClass   string
	functionClass string
	instance      string
}

var deviceTypes = map[string]Type{
	"light":                 TypeLight,
	"fan":                   TypeFan,
	"ceiling-fan":           TypeFan,
	"power-outlet":          TypeOutlet,
	"switch":                TypeOutlet,
	"landscape-transformer": TypeTransformer,
}

// primary is the characteristic every device of a type must be able to expose.
var primary = map[Type]Characteristic{
	TypeLight:       Power,
	TypeFan:         Active,
	TypeOutlet:      Power,
	TypeTransformer: Power,
}

var entries = []Entry{
	{DeviceClass: "light", FunctionClass: "power", Characteristic: Power},
	{DeviceClass: "light", FunctionClass: "brightness", Characteristic: Brightness},
	{DeviceClass: "light", FunctionClass: "color-rgb", Characteristic: ColorRGB},
	{DeviceClass: "light", FunctionClass: "color-temperature", Characteristic: ColorTemperature},
	{DeviceClass: "light", FunctionClass: "color-mode", Characteristic: ColorMode},

	{DeviceClass: "fan", FunctionClass: "power", Characteristic: Active},
	{DeviceClass: "fan", FunctionClass: "power", FunctionInstance: "fan-power", Characteristic: Active},
	{DeviceClass: "fan", FunctionClass: "power", FunctionInstance: "light-power", Characteristic: Power},
	{DeviceClass: "fan", FunctionClass: "fan-speed", Characteristic: RotationSpeed},
	{DeviceClass: "fan", FunctionClass: "brightness", Characteristic: Brightness},

	{DeviceClass: "ceiling-fan", FunctionClass: "power", Characteristic: Active},
	{DeviceClass: "ceiling-fan", FunctionClass: "power", FunctionInstance: "fan-power", Characteristic: Active},
	{DeviceClass: "ceiling-fan", FunctionClass: "power", FunctionInstance: "light-power", Characteristic: Power},
	{DeviceClass: "ceiling-fan", FunctionClass: "fan-speed", Characteristic: RotationSpeed},
	{DeviceClass: "ceiling-fan", FunctionClass: "brightness", Characteristic: Brightness},

	{DeviceClass: "power-outlet", FunctionClass: "power", Characteristic: Power},
	{DeviceClass: "power-outlet", FunctionClass: "toggle", Characteristic: Power},

	{DeviceClass: "switch", FunctionClass: "power", Characteristic: Power},

	{DeviceClass: "landscape-transformer", FunctionClass: "power", Characteristic: Power},
	{DeviceClass: "landscape-transformer", FunctionClass: "toggle", Characteristic: Power},
}

var table = build(entries)

func build(rows []Entry) map[key]Characteristic {
	m := make(map[key]Characteristic, len(rows))
	for _, e := range rows {
		k := key{e.DeviceClass, e.FunctionClass, e.FunctionInstance}
		if _, dup := m[k]; dup {
			panic(fmt.Sprintf("catalog: duplicate entry %s/%s/%s", e.DeviceClass, e.FunctionClass, e.FunctionInstance))
		}
		m[k] = e.Characteristic
	}
	return m
}

func init() {
	if err := validate(); err != nil {
		panic(err)
	}
}

// validate checks that each device class can expose its type's primary
// characteristic. A failure means the catalog and accessory code disagree.
func validate() error {
	for class, typ := range deviceTypes {
		want, ok := primary[typ]
		if !ok {
			return fmt.Errorf("catalog: no primary characteristic for type %q", typ)
		}
		found := false
		for k, c := range table {
			if k.deviceClass == class && c == want {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("catalog: device class %q has no %q function", class, want)
		}
	}
	return nil
}

// Resolve finds the characteristic for a vendor function. A row with the
// exact instance wins over the instance-less row for the same function class.
func Resolve(deviceClass, functionClass, functionInstance string) (Characteristic, bool) {
	if functionInstance != "" {
		if c, ok := table[key{deviceClass, functionClass, functionInstance}]; ok {
			return c, true
		}
	}
	c, ok := table[key{deviceClass, functionClass, ""}]
	return c, ok
}

// DeviceType returns the accessory type for a vendor device class.
func DeviceType(deviceClass string) (Type, bool) {
	t, ok := deviceTypes[deviceClass]
	return t, ok
}

// Entries returns a copy of all catalog rows.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
