package device

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/catalog"
)

// IDFunc derives a stable identifier from a seed.
type IDFunc func(seed string) string

// Mapper turns raw vendor devices into logical devices.
type Mapper struct {
	deriveID IDFunc
}

// NewMapper creates a mapper that derives accessory ids with deriveID.
func NewMapper(deriveID IDFunc) *Mapper {
	return &Mapper{deriveID: deriveID}
}

// Map produces the logical devices for one raw device. The result is empty
// when the device class is unknown or no function resolves.
//
// Bindings are packed first-fit: each goes into the first logical device that
// does not already expose its characteristic. Ids are derived by applying
// deriveID to the raw id once per ordinal, so the n-th logical device of a
// raw device always gets the same id.
func (m *Mapper) Map(raw RawDevice) []LogicalDevice {
	class := raw.Description.Device.DeviceClass
	typ, ok := catalog.DeviceType(class)
	if !ok {
		log.Debug().
			Str("device", raw.ID).
			Str("class", class).
			Msg("Unsupported device class, skipping")
		return nil
	}

	var partitions [][]Binding
	for _, fn := range raw.Description.Functions {
		c, ok := catalog.Resolve(class, fn.FunctionClass, fn.FunctionInstance)
		if !ok {
			continue
		}
		attr := fn.AttributeKey()
		if attr == "" {
			log.Debug().
				Str("device", raw.ID).
				Str("function", fn.FunctionClass).
				Str("instance", fn.FunctionInstance).
				Msg("Function has no attribute key, skipping")
			continue
		}

		b := Binding{
			Characteristic:   c,
			FunctionInstance: fn.FunctionInstance,
			AttributeKey:     attr,
			Range:            fn.ValueRange(),
		}
		partitions = place(partitions, b)
	}

	if len(partitions) == 0 {
		return nil
	}

	model := []string{}
	if raw.Description.Device.Model != "" {
		model = append(model, raw.Description.Device.Model)
	}

	devices := make([]LogicalDevice, 0, len(partitions))
	seed := raw.ID
	for i, bindings := range partitions {
		seed = m.deriveID(seed)
		devices = append(devices, LogicalDevice{
			ID:           seed,
			VendorID:     raw.ID,
			DeviceID:     raw.DeviceID,
			Name:         partitionName(raw.FriendlyName, i+1, bindings),
			Class:        class,
			Type:         typ,
			Manufacturer: raw.Description.Device.ManufacturerName,
			Model:        model,
			Functions:    bindings,
		})
	}

	return devices
}

// MapAll maps every eligible device of a tree, keeping raw order then
// partition order.
func (m *Mapper) MapAll(tree []RawDevice) []LogicalDevice {
	var out []LogicalDevice
	for _, raw := range Leaves(tree) {
		out = append(out, m.Map(raw)...)
	}
	return out
}

func place(partitions [][]Binding, b Binding) [][]Binding {
	for i, p := range partitions {
		if !contains(p, b.Characteristic) {
			partitions[i] = append(p, b)
			return partitions
		}
	}
	return append(partitions, []Binding{b})
}

func contains(bindings []Binding, c catalog.Characteristic) bool {
	for _, b := range bindings {
		if b.Characteristic == c {
			return true
		}
	}
	return false
}

func partitionName(name string, ordinal int, bindings []Binding) string {
	if ordinal == 1 {
		return name
	}
	if inst := bindings[0].FunctionInstance; inst != "" {
		return fmt.Sprintf("%s (%s)", name, inst)
	}
	return fmt.Sprintf("%s (%d)", name, ordinal)
}
