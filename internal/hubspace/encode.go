package hubspace

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnsupportedValue is returned for values that have no attribute encoding.
var ErrUnsupportedValue = errors.New("unsupported attribute value")

// EncodeValue converts a value to the string form of an attribute_write.
//
// Booleans become "01" or "00". Non-negative integers become their
// little-endian hex bytes, so 300 (0x012c) is "2c01". Strings are sent
// verbatim.
func EncodeValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "01", nil
		}
		return "00", nil
	case int:
		return encodeInt(int64(v))
	case int8:
		return encodeInt(int64(v))
	case int16:
		return encodeInt(int64(v))
	case int32:
		return encodeInt(int64(v))
	case int64:
		return encodeInt(v)
	case uint:
		return encodeUint(uint64(v)), nil
	case uint8:
		return encodeUint(uint64(v)), nil
	case uint16:
		return encodeUint(uint64(v)), nil
	case uint32:
		return encodeUint(uint64(v)), nil
	case uint64:
		return encodeUint(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("%v: %w", v, ErrUnsupportedValue)
		}
		return encodeInt(int64(v))
	default:
		return "", fmt.Errorf("%T: %w", value, ErrUnsupportedValue)
	}
}

func encodeInt(v int64) (string, error) {
	if v < 0 {
		return "", fmt.Errorf("%d: %w", v, ErrUnsupportedValue)
	}
	return encodeUint(uint64(v)), nil
}

func encodeUint(v uint64) string {
	hex := strconv.FormatUint(v, 16)
	if len(hex)%2 == 1 {
		hex = "0" + hex
	}
	out := make([]byte, 0, len(hex))
	for i := len(hex); i > 0; i -= 2 {
		out = append(out, hex[i-2:i]...)
	}
	return string(out)
}
