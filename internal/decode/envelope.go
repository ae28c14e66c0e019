// Package decode turns raw mesh-radio frames into structured records:
// envelope parsing, trial decryption against a configured key set,
// portnum-specific payload decoding, record assembly and route decoration.
//
// Decode failures are statuses, never errors. A frame that cannot be parsed
// or decrypted resolves to a terminal DecodeStatus and is dropped by the
// caller; nothing in this package propagates schema-parse failures.
package decode

import (
	"strings"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"
)

// ParseEnvelope parses the outer ServiceEnvelope frame. A structural parse
// failure returns nil: the caller drops the frame silently, it is not an
// error and never retried.
func ParseEnvelope(payload []byte) *meshtastic.ServiceEnvelope {
	env := &meshtastic.ServiceEnvelope{}
	if err := proto.Unmarshal(payload, env); err != nil {
		return nil
	}
	return env
}

// ChannelFromTopic extracts a best-effort channel name from an MQTT topic.
// Meshtastic topics look like msh/{region}/2/e/{channel}/{gateway}; the 5th
// segment is the channel unless it is empty or a !-prefixed node id.
func ChannelFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 {
		return ""
	}
	candidate := parts[4]
	if candidate == "" || strings.HasPrefix(candidate, "!") {
		return ""
	}
	return candidate
}

// ResolveChannel names the channel used for key derivation. The topic
// segment wins when present; otherwise the envelope's own channel id is
// used, so frames relayed on short topics still decrypt.
func ResolveChannel(topic string, env *meshtastic.ServiceEnvelope) string {
	if name := ChannelFromTopic(topic); name != "" {
		return name
	}
	return env.GetChannelId()
}
