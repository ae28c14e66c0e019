// Package seeder produces synthetic mesh traffic for demos and load tests.
package seeder

import (
	"encoding/base64"
	"fmt"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/brianvoe/gofakeit/v6"
	"google.golang.org/protobuf/proto"

	"github.com/meshwatch/meshwatch/internal/decode"
)

type node struct {
	id        uint32
	longName  string
	shortName string
}

// Seeder emits ServiceEnvelope frames from a small synthetic mesh. Frames
// rotate through nodeinfo, text, position and telemetry payloads; with
// encryption enabled the payload is sealed with the default channel key, so
// a default-configured pipeline can still decode it.
type Seeder struct {
	faker   *gofakeit.Faker
	nodes   []node
	channel string
	gateway string
	encrypt bool
	key     []byte
	counter uint32
}

func New(seed int64, nodeCount int, channel string, encrypt bool) (*Seeder, error) {
	if nodeCount < 2 {
		nodeCount = 2
	}
	faker := gofakeit.New(seed)

	nodes := make([]node, nodeCount)
	for i := range nodes {
		nodes[i] = node{
			id:        faker.Uint32(),
			longName:  faker.City() + " " + faker.Word(),
			shortName: faker.LetterN(4),
		}
	}

	var key []byte
	if encrypt {
		raw, err := base64.StdEncoding.DecodeString(decode.DefaultKeyB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode default key: %w", err)
		}
		normalized, ok := decode.NormalizePSK(raw)
		if !ok {
			return nil, fmt.Errorf("default key failed normalization")
		}
		key = normalized
	}

	return &Seeder{
		faker:   faker,
		nodes:   nodes,
		channel: channel,
		gateway: fmt.Sprintf("!%08x", faker.Uint32()),
		encrypt: encrypt,
		key:     key,
	}, nil
}

// Topic returns the MQTT topic the generated frames belong on.
func (s *Seeder) Topic() string {
	return fmt.Sprintf("msh/EU_868/2/e/%s/%s", s.channel, s.gateway)
}

// Next generates one marshaled ServiceEnvelope.
func (s *Seeder) Next() ([]byte, error) {
	s.counter++
	sender := s.nodes[s.faker.IntRange(0, len(s.nodes)-1)]

	var (
		data *meshtastic.Data
		err  error
	)
	switch s.counter % 4 {
	case 0:
		data, err = s.nodeInfo(sender)
	case 1:
		data = s.text()
	case 2:
		data, err = s.position()
	default:
		data, err = s.telemetry()
	}
	if err != nil {
		return nil, err
	}

	packetID := 0x10000 + s.counter
	packet := &meshtastic.MeshPacket{
		From:     sender.id,
		To:       s.recipient(sender),
		Id:       packetID,
		RxTime:   uint32(time.Now().Unix()),
		RxRssi:   int32(s.faker.IntRange(-120, -60)),
		RxSnr:    float32(s.faker.IntRange(-10, 12)),
		HopLimit: uint32(s.faker.IntRange(0, 3)),
		HopStart: 3,
		ViaMqtt:  true,
	}

	if s.encrypt {
		plaintext, err := proto.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		ciphertext, err := decode.ApplyCTR(s.key, packetID, sender.id, plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt payload: %w", err)
		}
		packet.PayloadVariant = &meshtastic.MeshPacket_Encrypted{Encrypted: ciphertext}
	} else {
		packet.PayloadVariant = &meshtastic.MeshPacket_Decoded{Decoded: data}
	}

	return proto.Marshal(&meshtastic.ServiceEnvelope{
		Packet:    packet,
		ChannelId: s.channel,
		GatewayId: s.gateway,
	})
}

// recipient picks broadcast most of the time, otherwise another node.
func (s *Seeder) recipient(sender node) uint32 {
	if s.faker.IntRange(0, 3) > 0 {
		return 0xFFFFFFFF
	}
	for i := 0; i < 4; i++ {
		peer := s.nodes[s.faker.IntRange(0, len(s.nodes)-1)]
		if peer.id != sender.id {
			return peer.id
		}
	}
	return 0xFFFFFFFF
}

func (s *Seeder) nodeInfo(sender node) (*meshtastic.Data, error) {
	payload, err := proto.Marshal(&meshtastic.User{
		Id:        fmt.Sprintf("!%08x", sender.id),
		LongName:  sender.longName,
		ShortName: sender.shortName,
		HwModel:   meshtastic.HardwareModel_TBEAM,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}
	return &meshtastic.Data{Portnum: meshtastic.PortNum_NODEINFO_APP, Payload: payload}, nil
}

func (s *Seeder) text() *meshtastic.Data {
	return &meshtastic.Data{
		Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte(s.faker.Sentence(s.faker.IntRange(2, 8))),
	}
}

func (s *Seeder) position() (*meshtastic.Data, error) {
	lat := int32(s.faker.Latitude() * 1e7)
	lon := int32(s.faker.Longitude() * 1e7)
	payload, err := proto.Marshal(&meshtastic.Position{
		LatitudeI:  &lat,
		LongitudeI: &lon,
		Altitude:   proto.Int32(int32(s.faker.IntRange(0, 2000))),
		Time:       uint32(time.Now().Unix()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal position: %w", err)
	}
	return &meshtastic.Data{Portnum: meshtastic.PortNum_POSITION_APP, Payload: payload}, nil
}

func (s *Seeder) telemetry() (*meshtastic.Data, error) {
	voltage := float32(s.faker.Float32Range(3.2, 4.2))
	level := uint32(s.faker.IntRange(0, 100))
	payload, err := proto.Marshal(&meshtastic.Telemetry{
		Time: uint32(time.Now().Unix()),
		Variant: &meshtastic.Telemetry_DeviceMetrics{
			DeviceMetrics: &meshtastic.DeviceMetrics{
				BatteryLevel: &level,
				Voltage:      &voltage,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telemetry: %w", err)
	}
	return &meshtastic.Data{Portnum: meshtastic.PortNum_TELEMETRY_APP, Payload: payload}, nil
}
