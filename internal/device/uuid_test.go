package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit UUID lowercase", input: "2902", expected: "2902"},
		{name: "16-bit UUID uppercase", input: "2A37", expected: "2a37"},
		{name: "16-bit UUID with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit UUID with 0X prefix", input: "0X2902", expected: "2902"},
		{name: "SIG base UUID with dashes", input: "00002902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "SIG base UUID uppercase", input: "0000180D-0000-1000-8000-00805F9B34FB", expected: "180d"},
		{name: "custom UUID keeps full form", input: "6e400001-b5a3-f393-e0a9-e50e24dcca9e", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},
		{name: "custom UUID with wrong prefix", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},
		{name: "empty string", input: "", expected: ""},
		{name: "not hex", input: "uuid-1", expected: ""},
		{name: "odd length", input: "123", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	t.Run("normalizes every valid UUID", func(t *testing.T) {
		got, err := ValidateUUID("180D", "0x2A37")
		require.NoError(t, err)
		assert.Equal(t, []string{"180d", "2a37"}, got)
	})

	t.Run("rejects empty input list", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.Error(t, err)
	})

	t.Run("rejects empty UUID", func(t *testing.T) {
		_, err := ValidateUUID("180D", "")
		assert.ErrorContains(t, err, "index 1")
	})

	t.Run("rejects malformed UUID", func(t *testing.T) {
		_, err := ValidateUUID("zz")
		assert.ErrorContains(t, err, "invalid UUID format")
	})
}

func TestSameUUID(t *testing.T) {
	assert.True(t, SameUUID("2902", "00002902-0000-1000-8000-00805f9b34fb"))
	assert.True(t, SameUUID("2A37", "2a37"))
	assert.False(t, SameUUID("2A37", "2A38"))
	assert.False(t, SameUUID("", ""))
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "6e400001", ShortenUUID("6e400001b5a3f393e0a9e50e24dcca9e"))
	assert.Equal(t, "2902", ShortenUUID("2902"))
}
