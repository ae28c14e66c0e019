package decode

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePSK(t *testing.T) {
	defaultKey, err := base64.StdEncoding.DecodeString(DefaultKeyB64)
	require.NoError(t, err)

	tests := []struct {
		name  string
		key   []byte
		want  []byte
		valid bool
	}{
		{
			name:  "single byte substitutes last byte of default key",
			key:   []byte{0x42},
			want:  append(append([]byte{}, defaultKey[:15]...), 0x42),
			valid: true,
		},
		{
			name:  "single byte 0x01 yields the default key itself",
			key:   []byte{0x01},
			want:  defaultKey,
			valid: true,
		},
		{
			name:  "16 byte key verbatim",
			key:   make([]byte, 16),
			want:  make([]byte, 16),
			valid: true,
		},
		{
			name:  "24 byte key verbatim",
			key:   make([]byte, 24),
			want:  make([]byte, 24),
			valid: true,
		},
		{
			name:  "32 byte key verbatim",
			key:   make([]byte, 32),
			want:  make([]byte, 32),
			valid: true,
		},
		{name: "empty key invalid", key: []byte{}, valid: false},
		{name: "odd length invalid", key: make([]byte, 5), valid: false},
		{name: "17 bytes invalid", key: make([]byte, 17), valid: false},
		{name: "33 bytes invalid", key: make([]byte, 33), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePSK(tt.key)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNormalizePSKDoesNotMutateDefaultKey(t *testing.T) {
	first, ok := NormalizePSK([]byte{0xAA})
	require.True(t, ok)
	second, ok := NormalizePSK([]byte{0xBB})
	require.True(t, ok)

	assert.Equal(t, byte(0xAA), first[15])
	assert.Equal(t, byte(0xBB), second[15])
	assert.Equal(t, first[:15], second[:15])
}

func TestChannelKey(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}

	h := sha256.New()
	h.Write(key)
	h.Write([]byte("LongFast"))
	want := h.Sum(nil)

	assert.Equal(t, want, ChannelKey(key, "LongFast"))
	assert.NotEqual(t, ChannelKey(key, "LongFast"), ChannelKey(key, "ShortFast"))
	assert.Len(t, ChannelKey(key, "LongFast"), 32)
}
