package decode

import (
	"encoding/base64"
	"fmt"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"github.com/meshwatch/meshwatch/internal/models"
)

// PortName resolves a portnum to its registered name, or UNKNOWN_{n} for
// codes the schema registry does not know.
func PortName(portnum int32) string {
	if name, ok := meshtastic.PortNum_name[portnum]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", portnum)
}

// Assemble flattens an envelope, the decryption outcome and the payload
// decoder output into a Record. The details map always carries decodeStatus
// and encrypted, even when the payload decoder produced nothing. CreatedAt is
// the ingest wall clock, not the device-reported rxTime.
func Assemble(env *meshtastic.ServiceEnvelope, data *meshtastic.Data, status models.DecodeStatus, now time.Time) *models.Record {
	packet := env.GetPacket()
	if packet == nil {
		return nil
	}

	var (
		portnum    *int32
		payloadB64 *string
		text       *string
		details    map[string]any
	)
	if data != nil {
		n := int32(data.GetPortnum())
		portnum = &n
		if payload := data.GetPayload(); len(payload) > 0 {
			b64 := base64.StdEncoding.EncodeToString(payload)
			payloadB64 = &b64
		}
		text, details = DecodePayload(data.GetPortnum(), data.GetPayload())
	}
	if details == nil {
		details = map[string]any{}
	}
	details["decodeStatus"] = string(status)
	details["encrypted"] = len(packet.GetEncrypted()) > 0

	var portname string
	switch {
	case portnum != nil:
		portname = PortName(*portnum)
	case status == models.StatusDecryptFailed:
		portname = "ENCRYPTED"
	case status == models.StatusNoPayload:
		portname = "NO_PAYLOAD"
	default:
		portname = "UNKNOWN_APP"
	}

	var gatewayID *string
	if gw := env.GetGatewayId(); gw != "" {
		gatewayID = &gw
	}

	return &models.Record{
		RxTime:       packet.GetRxTime(),
		FromID:       packet.GetFrom(),
		ToID:         packet.GetTo(),
		Portnum:      portnum,
		Portname:     portname,
		PayloadB64:   payloadB64,
		Text:         text,
		RSSI:         packet.GetRxRssi(),
		SNR:          packet.GetRxSnr(),
		HopLimit:     packet.GetHopLimit(),
		HopStart:     packet.GetHopStart(),
		ViaMQTT:      packet.GetViaMqtt(),
		Channel:      packet.GetChannel(),
		GatewayID:    gatewayID,
		CreatedAt:    now.Unix(),
		Details:      details,
		DecodeStatus: status,
	}
}

// NodeLabel resolves a node id to a human label: cached short name, else long
// name, else the !-prefixed 8-hex-digit id. The broadcast sentinel maps to
// "broadcast".
func NodeLabel(nodeID uint32, names map[uint32]models.NodeName) string {
	if nodeID == models.BroadcastID {
		return "broadcast"
	}
	if n, ok := names[nodeID]; ok {
		if n.ShortName != "" {
			return n.ShortName
		}
		if n.LongName != "" {
			return n.LongName
		}
	}
	return fmt.Sprintf("!%08x", nodeID)
}
