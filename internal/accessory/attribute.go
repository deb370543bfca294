package accessory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/device"
)

// notResponding is the sentinel integer the vendor reports for missing data.
const notResponding = -1

// attribute is the vendor attribute behind one binding.
type attribute struct {
	io       ValueIO
	deviceID string
	binding  device.Binding
}

func newAttribute(io ValueIO, dev device.LogicalDevice, b device.Binding) attribute {
	return attribute{io: io, deviceID: dev.DeviceID, binding: b}
}

func (a attribute) key() string {
	return a.binding.AttributeKey
}

func (a attribute) readString(ctx context.Context) (string, error) {
	v, err := a.io.ReadAttribute(ctx, a.deviceID, a.key())
	if err != nil {
		log.Warn().Err(err).
			Str("device", a.deviceID).
			Str("attribute", a.key()).
			Msg("Attribute read failed")
		return "", fmt.Errorf("read %s/%s: %w", a.deviceID, a.key(), ErrNotResponding)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		log.Warn().
			Str("device", a.deviceID).
			Str("attribute", a.key()).
			Msg("Attribute has no value")
		return "", fmt.Errorf("read %s/%s: empty value: %w", a.deviceID, a.key(), ErrNotResponding)
	}
	return v, nil
}

func (a attribute) readBool(ctx context.Context) (bool, error) {
	v, err := a.readString(ctx)
	if err != nil {
		return false, err
	}
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "on"), nil
}

func (a attribute) readInt(ctx context.Context) (int, error) {
	v, err := a.readString(ctx)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			log.Warn().
				Str("device", a.deviceID).
				Str("attribute", a.key()).
				Str("value", v).
				Msg("Attribute is not a number")
			return 0, fmt.Errorf("read %s/%s: %q is not a number: %w", a.deviceID, a.key(), v, ErrNotResponding)
		}
		n = int(math.Round(f))
	}
	if n == notResponding {
		return 0, fmt.Errorf("read %s/%s: sentinel value: %w", a.deviceID, a.key(), ErrNotResponding)
	}
	return n, nil
}

func (a attribute) write(ctx context.Context, value any) error {
	if err := a.io.WriteAttribute(ctx, a.deviceID, a.key(), value); err != nil {
		log.Error().Err(err).
			Str("device", a.deviceID).
			Str("attribute", a.key()).
			Interface("value", value).
			Msg("Attribute write failed")
		return fmt.Errorf("write %s/%s: %w", a.deviceID, a.key(), ErrNotResponding)
	}
	return nil
}

// toInt accepts the numeric shapes a host or JSON decoder may produce.
func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float32:
		return int(math.Round(float64(v))), nil
	case float64:
		return int(math.Round(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q: %w", v, ErrInvalidValue)
		}
		return int(math.Round(f)), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%q: %w", v, ErrInvalidValue)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%T: %w", value, ErrInvalidValue)
	}
}

func toBool(value any) (bool, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	n, err := toInt(value)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}
