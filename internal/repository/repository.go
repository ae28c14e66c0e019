package repository

import (
	"context"
	"errors"

	"github.com/meshwatch/meshwatch/internal/models"
)

var ErrNodeNotFound = errors.New("node not found")

// PacketFilter narrows historical packet queries. Zero values mean "no
// constraint"; WindowSeconds of 0 disables the time cutoff.
type PacketFilter struct {
	Limit         int
	WindowSeconds int64
	Portnums      []int32
	Channel       *uint32
	NodeID        *uint32
	GatewayID     string
}

// GraphEdge is one aggregated (from, to, portnum) traffic edge.
type GraphEdge struct {
	FromID   uint32 `json:"fromId"`
	ToID     uint32 `json:"toId"`
	Portnum  *int32 `json:"portnum,omitempty"`
	Portname string `json:"portname"`
	Count    int64  `json:"count"`
	LastSeen int64  `json:"lastSeen"`
}

// NodeSummary aggregates one node's traffic over a window.
type NodeSummary struct {
	NodeID      uint32  `json:"nodeId"`
	LongName    string  `json:"longName,omitempty"`
	ShortName   string  `json:"shortName,omitempty"`
	LastSeen    int64   `json:"lastSeen"`
	PacketCount int64   `json:"packetCount"`
	AvgRSSI     float64 `json:"avgRssi"`
	AvgSNR      float64 `json:"avgSnr"`
	LastPacket  int64   `json:"lastPacket"`
}

// PortSummary aggregates packet counts per portnum.
type PortSummary struct {
	Portnum  *int32 `json:"portnum,omitempty"`
	Portname string `json:"portname"`
	Count    int64  `json:"count"`
	LastSeen int64  `json:"lastSeen"`
}

// ChannelSummary aggregates packet counts per channel index.
type ChannelSummary struct {
	Channel  uint32 `json:"channel"`
	Count    int64  `json:"count"`
	LastSeen int64  `json:"lastSeen"`
}

// PeerSummary aggregates one node's traffic with a single peer.
type PeerSummary struct {
	PeerID   uint32 `json:"peerId"`
	Count    int64  `json:"count"`
	LastSeen int64  `json:"lastSeen"`
}

// MetricCounts holds the raw aggregates behind the metrics endpoint. RSSI and
// SNR samples are capped, sorted sets used for median computation upstream.
type MetricCounts struct {
	TotalPackets int64
	ActiveNodes  int64
	TopPorts     []*PortSummary
	RSSIValues   []float64
	SNRValues    []float64
}

// Store persists records and node identities and answers historical queries.
// The ingest pipeline uses only InsertPacket, TouchNode, UpsertNodeName and
// AllNodeNames; the rest serves the HTTP query surface.
type Store interface {
	InsertPacket(ctx context.Context, record *models.Record) (int64, error)
	TouchNode(ctx context.Context, nodeID uint32) error
	// UpsertNodeName merge-updates a node's names: an empty argument never
	// erases a previously stored value.
	UpsertNodeName(ctx context.Context, nodeID uint32, longName, shortName string) error
	AllNodeNames(ctx context.Context) (map[uint32]models.NodeName, error)

	GetNode(ctx context.Context, nodeID uint32) (*models.Node, error)
	RecentPackets(ctx context.Context, filter PacketFilter) ([]*models.StoredRecord, error)
	NodeSummaries(ctx context.Context, filter PacketFilter) ([]*NodeSummary, error)
	GraphEdges(ctx context.Context, filter PacketFilter) ([]*GraphEdge, error)
	PortSummaries(ctx context.Context, filter PacketFilter) ([]*PortSummary, error)
	ChannelSummaries(ctx context.Context, filter PacketFilter) ([]*ChannelSummary, error)
	NodePeers(ctx context.Context, nodeID uint32, limit int, filter PacketFilter) ([]*PeerSummary, error)
	MetricCounts(ctx context.Context, filter PacketFilter) (*MetricCounts, error)

	Close()
}
