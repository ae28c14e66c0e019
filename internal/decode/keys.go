package decode

import (
	"crypto/sha256"
	"encoding/base64"
)

// DefaultKeyB64 is the well-known Meshtastic default channel PSK.
const DefaultKeyB64 = "1PG7OiApB1nwvP+rz05pAQ=="

func defaultKey() []byte {
	key, _ := base64.StdEncoding.DecodeString(DefaultKeyB64)
	return key
}

// NormalizePSK maps a raw pre-shared key onto a usable AES key.
// A 1-byte key selects a variant of the default key by substituting its last
// byte; 16, 24 and 32 byte keys are used verbatim; anything else is invalid
// and must be skipped, not tried.
func NormalizePSK(key []byte) ([]byte, bool) {
	switch len(key) {
	case 1:
		base := defaultKey()
		base[len(base)-1] = key[0]
		return base, true
	case 16, 24, 32:
		return key, true
	default:
		return nil, false
	}
}

// ChannelKey derives the channel-specific key: sha256(key || utf8(channel)).
func ChannelKey(key []byte, channelName string) []byte {
	h := sha256.New()
	h.Write(key)
	h.Write([]byte(channelName))
	return h.Sum(nil)
}
