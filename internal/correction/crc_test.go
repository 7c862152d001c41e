package correction

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCCITT16(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected uint16
	}{
		{
			name:     "empty data",
			input:    []byte{},
			expected: 0x0000,
		},
		{
			name:     "check string",
			input:    []byte("123456789"),
			expected: 0x31C3,
		},
		{
			name:     "single byte",
			input:    []byte{0x01},
			expected: 0x1021,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CCITT16(tt.input))
		})
	}
}

func TestModeSParity(t *testing.T) {
	// DF17 identification squitter with a clean parity field
	msg, err := hex.DecodeString("8D4840D6202CC371C32CE0576098")
	require.NoError(t, err)

	assert.Equal(t, uint32(0x576098), ModeSParity(msg))
}

func TestStripParity(t *testing.T) {
	t.Run("clean squitter leaves zero PI", func(t *testing.T) {
		msg, err := hex.DecodeString("8D4840D6202CC371C32CE0576098")
		require.NoError(t, err)

		StripParity(msg)

		assert.Equal(t, []byte{0, 0, 0}, msg[11:])
		assert.Equal(t, []byte{0x8D, 0x48, 0x40, 0xD6}, msg[:4], "body must not change")
	})

	t.Run("AP overlay recovers the address", func(t *testing.T) {
		body := []byte{0x20, 0x00, 0x17, 0x18}
		msg := append(append([]byte{}, body...), 0, 0, 0)
		parity := ModeSParity(msg)
		icao := uint32(0xABCDEF)
		overlay := parity ^ icao
		msg[4], msg[5], msg[6] = byte(overlay>>16), byte(overlay>>8), byte(overlay)

		StripParity(msg)

		assert.Equal(t, []byte{0xAB, 0xCD, 0xEF}, msg[4:])
	})

	t.Run("short input is ignored", func(t *testing.T) {
		msg := []byte{1, 2, 3}
		StripParity(msg)
		assert.Equal(t, []byte{1, 2, 3}, msg)
	})
}

func BenchmarkCCITT16(b *testing.B) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CCITT16(data)
	}
}
