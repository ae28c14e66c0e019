package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatch/meshwatch/internal/models"
)

func ptrInt32(v int32) *int32 { return &v }

func ptrUint32(v uint32) *uint32 { return &v }

func ptrString(v string) *string { return &v }

// insertAt stores a record with a fixed CreatedAt so window tests are
// deterministic.
func insertAt(t *testing.T, store *MemoryStore, record models.Record, createdAt int64) int64 {
	t.Helper()
	record.CreatedAt = createdAt
	id, err := store.InsertPacket(context.Background(), &record)
	require.NoError(t, err)
	return id
}

func TestMemoryStoreInsertAndRecent(t *testing.T) {
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Unix(1000, 0) }
	ctx := context.Background()

	first := insertAt(t, store, models.Record{
		FromID:   0x11111111,
		ToID:     models.BroadcastID,
		Portnum:  ptrInt32(1),
		Portname: "TEXT_MESSAGE_APP",
		Text:     ptrString("hello"),
		Channel:  0,
	}, 900)
	second := insertAt(t, store, models.Record{
		FromID:   0x22222222,
		ToID:     0x11111111,
		Portnum:  ptrInt32(3),
		Portname: "POSITION_APP",
		Channel:  1,
	}, 950)

	packets, err := store.RecentPackets(ctx, PacketFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, second, packets[0].ID, "newest packet first")
	assert.Equal(t, first, packets[1].ID)

	packets, err = store.RecentPackets(ctx, PacketFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, second, packets[0].ID)
}

func TestMemoryStoreRecentTiesBreakOnID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	insertAt(t, store, models.Record{FromID: 1, ToID: 2}, 500)
	last := insertAt(t, store, models.Record{FromID: 3, ToID: 4}, 500)

	packets, err := store.RecentPackets(ctx, PacketFilter{})
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, last, packets[0].ID, "equal timestamps order by id desc")
}

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Unix(1000, 0) }
	ctx := context.Background()

	gateway := "!deadbeef"
	insertAt(t, store, models.Record{
		FromID:    0xaa,
		ToID:      0xbb,
		Portnum:   ptrInt32(1),
		Channel:   0,
		GatewayID: &gateway,
	}, 990)
	insertAt(t, store, models.Record{
		FromID:  0xbb,
		ToID:    0xcc,
		Portnum: ptrInt32(3),
		Channel: 1,
	}, 995)
	insertAt(t, store, models.Record{
		FromID:  0xdd,
		ToID:    0xee,
		Portnum: ptrInt32(1),
		Channel: 0,
	}, 100)

	tests := []struct {
		name   string
		filter PacketFilter
		want   int
	}{
		{name: "no filter", filter: PacketFilter{}, want: 3},
		{name: "window excludes old", filter: PacketFilter{WindowSeconds: 60}, want: 2},
		{name: "portnum", filter: PacketFilter{Portnums: []int32{3}}, want: 1},
		{name: "portnum list", filter: PacketFilter{Portnums: []int32{1, 3}}, want: 3},
		{name: "channel", filter: PacketFilter{Channel: ptrUint32(1)}, want: 1},
		{name: "gateway", filter: PacketFilter{GatewayID: "!deadbeef"}, want: 1},
		{name: "node either direction", filter: PacketFilter{NodeID: ptrUint32(0xbb)}, want: 2},
		{name: "no match", filter: PacketFilter{GatewayID: "!00000000"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packets, err := store.RecentPackets(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, packets, tt.want)
		})
	}
}

func TestMemoryStoreUpsertNodeNameMerges(t *testing.T) {
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Unix(2000, 0) }
	ctx := context.Background()

	require.NoError(t, store.UpsertNodeName(ctx, 0x1234, "Base Camp", "BC"))
	require.NoError(t, store.UpsertNodeName(ctx, 0x1234, "", "BC2"))

	node, err := store.GetNode(ctx, 0x1234)
	require.NoError(t, err)
	assert.Equal(t, "Base Camp", node.LongName, "empty long name must not erase")
	assert.Equal(t, "BC2", node.ShortName)
	assert.Equal(t, int64(2000), node.LastSeen)

	names, err := store.AllNodeNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.NodeName{LongName: "Base Camp", ShortName: "BC2"}, names[0x1234])
}

func TestMemoryStoreGetNodeNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetNode(context.Background(), 0x9999)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestMemoryStoreTouchNode(t *testing.T) {
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Unix(3000, 0) }
	ctx := context.Background()

	require.NoError(t, store.TouchNode(ctx, 0x42))
	node, err := store.GetNode(ctx, 0x42)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), node.LastSeen)
	assert.Empty(t, node.LongName)
}

func TestMemoryStoreNodeSummaries(t *testing.T) {
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Unix(1000, 0) }
	ctx := context.Background()

	require.NoError(t, store.UpsertNodeName(ctx, 0xaa, "Alpha", "AL"))
	require.NoError(t, store.TouchNode(ctx, 0xbb))

	insertAt(t, store, models.Record{FromID: 0xaa, ToID: 0xbb, RSSI: -80, SNR: 4}, 900)
	insertAt(t, store, models.Record{FromID: 0xaa, ToID: 0xcc, RSSI: -100, SNR: 8}, 950)
	insertAt(t, store, models.Record{FromID: 0xbb, ToID: 0xaa, RSSI: -90, SNR: 2}, 960)

	summaries, err := store.NodeSummaries(ctx, PacketFilter{})
	require.NoError(t, err)
	require.Len(t, summaries, 2, "only nodes with stored identities are summarized")

	assert.Equal(t, uint32(0xaa), summaries[0].NodeID, "busiest node first")
	assert.Equal(t, "Alpha", summaries[0].LongName)
	assert.Equal(t, int64(3), summaries[0].PacketCount)
	assert.InDelta(t, -90.0, summaries[0].AvgRSSI, 0.001)
	assert.Equal(t, int64(960), summaries[0].LastPacket)

	assert.Equal(t, uint32(0xbb), summaries[1].NodeID)
	assert.Equal(t, int64(2), summaries[1].PacketCount)
}

func TestMemoryStoreGraphEdges(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	insertAt(t, store, models.Record{FromID: 1, ToID: 2, Portnum: ptrInt32(1), Portname: "TEXT_MESSAGE_APP"}, 100)
	insertAt(t, store, models.Record{FromID: 1, ToID: 2, Portnum: ptrInt32(1), Portname: "TEXT_MESSAGE_APP"}, 200)
	insertAt(t, store, models.Record{FromID: 1, ToID: 2, Portnum: ptrInt32(3), Portname: "POSITION_APP"}, 150)
	insertAt(t, store, models.Record{FromID: 2, ToID: 1, Portname: "ENCRYPTED"}, 175)

	edges, err := store.GraphEdges(ctx, PacketFilter{})
	require.NoError(t, err)
	require.Len(t, edges, 3)

	assert.Equal(t, int64(2), edges[0].Count)
	assert.Equal(t, "TEXT_MESSAGE_APP", edges[0].Portname)
	assert.Equal(t, int64(200), edges[0].LastSeen)

	withoutPort := 0
	for _, edge := range edges {
		if edge.Portnum == nil {
			withoutPort++
			assert.Equal(t, "ENCRYPTED", edge.Portname)
		}
	}
	assert.Equal(t, 1, withoutPort, "undecoded traffic keeps its own edge")
}

func TestMemoryStorePortAndChannelSummaries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	insertAt(t, store, models.Record{FromID: 1, ToID: 2, Portnum: ptrInt32(1), Portname: "TEXT_MESSAGE_APP", Channel: 0}, 100)
	insertAt(t, store, models.Record{FromID: 1, ToID: 2, Portnum: ptrInt32(1), Portname: "TEXT_MESSAGE_APP", Channel: 0}, 110)
	insertAt(t, store, models.Record{FromID: 3, ToID: 4, Portnum: ptrInt32(67), Portname: "TELEMETRY_APP", Channel: 2}, 120)

	ports, err := store.PortSummaries(ctx, PacketFilter{})
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "TEXT_MESSAGE_APP", ports[0].Portname)
	assert.Equal(t, int64(2), ports[0].Count)

	channels, err := store.ChannelSummaries(ctx, PacketFilter{})
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, uint32(0), channels[0].Channel)
	assert.Equal(t, int64(2), channels[0].Count)
	assert.Equal(t, int64(110), channels[0].LastSeen)
}

func TestMemoryStoreNodePeers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	insertAt(t, store, models.Record{FromID: 1, ToID: 2}, 100)
	insertAt(t, store, models.Record{FromID: 2, ToID: 1}, 110)
	insertAt(t, store, models.Record{FromID: 1, ToID: 3}, 120)
	insertAt(t, store, models.Record{FromID: 4, ToID: 5}, 130)

	peers, err := store.NodePeers(ctx, 1, 10, PacketFilter{})
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, uint32(2), peers[0].PeerID, "peer with most shared traffic first")
	assert.Equal(t, int64(2), peers[0].Count)
	assert.Equal(t, uint32(3), peers[1].PeerID)

	peers, err = store.NodePeers(ctx, 1, 1, PacketFilter{})
	require.NoError(t, err)
	assert.Len(t, peers, 1)
}

func TestMemoryStoreMetricCounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	insertAt(t, store, models.Record{FromID: 1, ToID: models.BroadcastID, Portnum: ptrInt32(1), Portname: "TEXT_MESSAGE_APP", RSSI: -70, SNR: 5}, 100)
	insertAt(t, store, models.Record{FromID: 2, ToID: 1, Portnum: ptrInt32(3), Portname: "POSITION_APP", RSSI: -90, SNR: -3}, 110)

	counts, err := store.MetricCounts(ctx, PacketFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.TotalPackets)
	assert.Equal(t, int64(2), counts.ActiveNodes, "broadcast address never counts as a node")
	require.Len(t, counts.TopPorts, 2)
	assert.Equal(t, []float64{-90, -70}, counts.RSSIValues)
	assert.Equal(t, []float64{-3, 5}, counts.SNRValues)
}
