package decode

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// DecodePayload decodes a Data payload according to its portnum. It returns
// the extracted text, if any, and a details map with protojson field names.
// Any schema parse failure degrades to nil details for that message; portnums
// without a registered schema yield nothing at all.
func DecodePayload(portnum meshtastic.PortNum, payload []byte) (*string, map[string]any) {
	switch portnum {
	case meshtastic.PortNum_TEXT_MESSAGE_APP:
		return decodeText(payload)
	case meshtastic.PortNum_TEXT_MESSAGE_COMPRESSED_APP:
		return decodeCompressed(payload)
	case meshtastic.PortNum_NODEINFO_APP:
		// Firmware sends User here, but some gateways republish NodeInfo.
		if details := protoToMap(&meshtastic.User{}, payload); details != nil {
			return nil, details
		}
		return nil, protoToMap(&meshtastic.NodeInfo{}, payload)
	case meshtastic.PortNum_POSITION_APP:
		details := protoToMap(&meshtastic.Position{}, payload)
		attachDegrees(details)
		return nil, details
	case meshtastic.PortNum_ROUTING_APP:
		return nil, protoToMap(&meshtastic.Routing{}, payload)
	case meshtastic.PortNum_TRACEROUTE_APP:
		return nil, protoToMap(&meshtastic.RouteDiscovery{}, payload)
	case meshtastic.PortNum_WAYPOINT_APP:
		return nil, protoToMap(&meshtastic.Waypoint{}, payload)
	case meshtastic.PortNum_NEIGHBORINFO_APP:
		return nil, protoToMap(&meshtastic.NeighborInfo{}, payload)
	case meshtastic.PortNum_TELEMETRY_APP:
		return nil, protoToMap(&meshtastic.Telemetry{}, payload)
	case meshtastic.PortNum_ADMIN_APP:
		return nil, protoToMap(&meshtastic.AdminMessage{}, payload)
	case meshtastic.PortNum_REMOTE_HARDWARE_APP:
		return nil, protoToMap(&meshtastic.HardwareMessage{}, payload)
	case meshtastic.PortNum_PAXCOUNTER_APP:
		return nil, protoToMap(&meshtastic.Paxcount{}, payload)
	case meshtastic.PortNum_STORE_FORWARD_APP:
		return nil, protoToMap(&meshtastic.StoreAndForward{}, payload)
	case meshtastic.PortNum_MAP_REPORT_APP:
		return nil, protoToMap(&meshtastic.MapReport{}, payload)
	case meshtastic.PortNum_KEY_VERIFICATION_APP:
		return nil, protoToMap(&meshtastic.KeyVerification{}, payload)
	default:
		return nil, nil
	}
}

func decodeText(payload []byte) (*string, map[string]any) {
	if len(payload) == 0 {
		return nil, nil
	}
	text := strings.ToValidUTF8(string(payload), "�")
	return &text, map[string]any{"text": text}
}

func decodeCompressed(payload []byte) (*string, map[string]any) {
	if len(payload) == 0 {
		return nil, nil
	}
	compressed := &meshtastic.Compressed{}
	if err := proto.Unmarshal(payload, compressed); err != nil {
		return nil, nil
	}

	details := map[string]any{
		"portnum":        PortName(int32(compressed.GetPortnum())),
		"compressedSize": len(compressed.GetData()),
	}
	inflated, err := inflate(compressed.GetData())
	if err != nil {
		details["dataB64"] = base64.StdEncoding.EncodeToString(compressed.GetData())
		return nil, details
	}
	text := strings.ToValidUTF8(string(inflated), "�")
	details["text"] = text
	return &text, details
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// protoToMap parses payload into msg and renders it as a generic map with
// protojson naming. Returns nil on empty payload or any parse failure.
func protoToMap(msg proto.Message, payload []byte) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	if err := proto.Unmarshal(payload, msg); err != nil {
		return nil
	}
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return nil
	}
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil
	}
	return details
}

// attachDegrees derives decimal degrees from integer microdegree fields.
func attachDegrees(details map[string]any) {
	if details == nil {
		return
	}
	latI, latOK := details["latitudeI"].(float64)
	lonI, lonOK := details["longitudeI"].(float64)
	if latOK && lonOK {
		details["latitude"] = latI / 1e7
		details["longitude"] = lonI / 1e7
	}
}
