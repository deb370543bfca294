package hubspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"true", true, "01"},
		{"false", false, "00"},
		{"zero", 0, "00"},
		{"small", 10, "0a"},
		{"one byte", 255, "ff"},
		{"odd length padded", 300, "2c01"},
		{"kelvin", 4000, "a00f"},
		{"three bytes", 0x123456, "563412"},
		{"int64", int64(100), "64"},
		{"uint16", uint16(0x0102), "0201"},
		{"integral float", 2200.0, "9808"},
		{"string verbatim", "FF8800", "FF8800"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeValueRejects(t *testing.T) {
	for _, v := range []any{-1, 1.5, []byte("x"), nil, struct{}{}} {
		_, err := EncodeValue(v)
		assert.ErrorIs(t, err, ErrUnsupportedValue, "%#v", v)
	}
}
