// Package device holds the Hubspace device model and the mapper that turns
// raw vendor devices into logical devices, one per host accessory.
package device

import (
	"github.com/dokzlo13/hubspaced/internal/catalog"
)

// TypeDevice is the metadevice type id of physical devices.
const TypeDevice = "metadevice.device"

// RawDevice is a node of the vendor metadevice tree.
type RawDevice struct {
	ID           string      `json:"id"`
	DeviceID     string      `json:"deviceId"`
	TypeID       string      `json:"typeId"`
	FriendlyName string      `json:"friendlyName"`
	Children     []RawDevice `json:"children"`
	Description  Description `json:"description"`
}

// Description is the static part of a metadevice.
type Description struct {
	Device    Info          `json:"device"`
	Functions []RawFunction `json:"functions"`
}

// Info identifies the hardware.
type Info struct {
	DeviceClass      string `json:"deviceClass"`
	ManufacturerName string `json:"manufacturerName"`
	Model            string `json:"model"`
}

// RawFunction is a vendor function descriptor.
type RawFunction struct {
	FunctionClass    string          `json:"functionClass"`
	FunctionInstance string          `json:"functionInstance,omitempty"`
	Values           []FunctionValue `json:"values"`
}

// FunctionValue describes one possible value of a function.
type FunctionValue struct {
	Name         string        `json:"name"`
	DeviceValues []DeviceValue `json:"deviceValues"`
	Range        *Range        `json:"range,omitempty"`
}

// DeviceValue points at the attribute backing a function value.
type DeviceValue struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// Range is the numeric domain of a function value.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Eligible reports whether the node is a leaf device that can be mapped.
func (d RawDevice) Eligible() bool {
	return len(d.Children) == 0 && d.TypeID == TypeDevice
}

// AttributeKey returns the vendor attribute backing the function, preferring
// values declared as attributes.
func (f RawFunction) AttributeKey() string {
	fallback := ""
	for _, v := range f.Values {
		for _, dv := range v.DeviceValues {
			if dv.Key == "" {
				continue
			}
			if dv.Type == "attribute" {
				return dv.Key
			}
			if fallback == "" {
				fallback = dv.Key
			}
		}
	}
	return fallback
}

// ValueRange returns the first non-empty range reported for the function.
func (f RawFunction) ValueRange() *Range {
	for _, v := range f.Values {
		if v.Range != nil && v.Range.Max > v.Range.Min {
			r := *v.Range
			return &r
		}
	}
	return nil
}

// Binding ties a characteristic to the vendor attribute that backs it.
type Binding struct {
	Characteristic   catalog.Characteristic `json:"characteristic"`
	FunctionInstance string                 `json:"functionInstance,omitempty"`
	AttributeKey     string                 `json:"attributeKey"`
	Range            *Range                 `json:"range,omitempty"`
}

// LogicalDevice is the unit bound to a single host accessory.
// Functions never holds two bindings for the same characteristic.
type LogicalDevice struct {
	ID           string       `json:"id"`
	VendorID     string       `json:"vendorId"`
	DeviceID     string       `json:"deviceId"`
	Name         string       `json:"name"`
	Class        string       `json:"class"`
	Type         catalog.Type `json:"type"`
	Manufacturer string       `json:"manufacturer"`
	Model        []string     `json:"model"`
	Functions    []Binding    `json:"functions"`
}

// Binding returns the binding for a characteristic.
func (d LogicalDevice) Binding(c catalog.Characteristic) (Binding, bool) {
	for _, b := range d.Functions {
		if b.Characteristic == c {
			return b, true
		}
	}
	return Binding{}, false
}

// Has reports whether the device exposes a characteristic.
func (d LogicalDevice) Has(c catalog.Characteristic) bool {
	_, ok := d.Binding(c)
	return ok
}

// Characteristics lists the bound characteristics in binding order.
func (d LogicalDevice) Characteristics() []catalog.Characteristic {
	out := make([]catalog.Characteristic, 0, len(d.Functions))
	for _, b := range d.Functions {
		out = append(out, b.Characteristic)
	}
	return out
}

// Leaves returns the eligible devices of a tree in depth-first order.
func Leaves(tree []RawDevice) []RawDevice {
	var out []RawDevice
	var walk func(nodes []RawDevice)
	walk = func(nodes []RawDevice) {
		for _, n := range nodes {
			if n.Eligible() {
				out = append(out, n)
				continue
			}
			walk(n.Children)
		}
	}
	walk(tree)
	return out
}
