package decode

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"

	"github.com/meshwatch/meshwatch/internal/models"
)

// ApplyCTR runs AES-CTR over data with the mesh nonce construction: the
// initial counter block is the packet id as 8 little-endian bytes followed by
// the sender id as 8 little-endian bytes, interpreted as one big-endian
// 128-bit counter. CTR is symmetric, so this both encrypts and decrypts.
func ApplyCTR(key []byte, packetID, fromID uint32, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, 16)
	binary.LittleEndian.PutUint64(iv[0:8], uint64(packetID))
	binary.LittleEndian.PutUint64(iv[8:16], uint64(fromID))

	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

// Decrypt resolves a packet's payload variant to a Data message and a
// terminal decode status.
//
// Plaintext packets pass through as StatusDecoded. Ciphertext is tried
// against every configured base64 key in order; each key contributes the
// normalized key itself plus, when a channel name is known, the
// channel-derived key. The first candidate whose plaintext parses as a Data
// message with a portnum other than UNKNOWN_APP wins. Key order is
// deterministic and the direct key is always tried before the derived one.
func Decrypt(packet *meshtastic.MeshPacket, keysB64 []string, channelName string) (*meshtastic.Data, models.DecodeStatus) {
	if decoded := packet.GetDecoded(); decoded != nil {
		return decoded, models.StatusDecoded
	}
	encrypted := packet.GetEncrypted()
	if len(encrypted) == 0 {
		return nil, models.StatusNoPayload
	}

	for _, keyB64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			continue
		}
		key, ok := NormalizePSK(raw)
		if !ok {
			continue
		}
		candidates := [][]byte{key}
		if channelName != "" {
			candidates = append(candidates, ChannelKey(key, channelName))
		}
		for _, candidate := range candidates {
			plaintext, err := ApplyCTR(candidate, packet.GetId(), packet.GetFrom(), encrypted)
			if err != nil {
				continue
			}
			data := &meshtastic.Data{}
			if err := proto.Unmarshal(plaintext, data); err != nil {
				continue
			}
			if data.GetPortnum() == meshtastic.PortNum_UNKNOWN_APP {
				continue
			}
			return data, models.StatusDecrypted
		}
	}
	return nil, models.StatusDecryptFailed
}
