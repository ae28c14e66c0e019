package repository

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meshwatch/meshwatch/internal/models"
)

// setupTestDatabase starts a PostgreSQL testcontainer, runs migrations and
// returns a connected store.
func setupTestDatabase(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("meshwatch_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to get connection string: %v", err)
	}

	if err := Migrate(connStr); err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	store, err := NewPostgresStore(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}
	return store, cleanup
}

func TestPostgresStorePacketLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	store, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	gateway := "!deadbeef"
	text := "hello mesh"
	record := &models.Record{
		RxTime:    1700000000,
		FromID:    0x11111111,
		ToID:      models.BroadcastID,
		Portnum:   ptrInt32(1),
		Portname:  "TEXT_MESSAGE_APP",
		Text:      &text,
		RSSI:      -85,
		SNR:       6.5,
		HopLimit:  3,
		HopStart:  3,
		Channel:   0,
		GatewayID: &gateway,
		CreatedAt: time.Now().Unix(),
		Details:   map[string]any{"decodeStatus": "decoded", "encrypted": false},
	}

	id, err := store.InsertPacket(ctx, record)
	if err != nil {
		t.Fatalf("Failed to insert packet: %v", err)
	}
	if id <= 0 {
		t.Fatalf("Expected positive packet id, got %d", id)
	}

	packets, err := store.RecentPackets(ctx, PacketFilter{Limit: 10})
	if err != nil {
		t.Fatalf("Failed to query recent packets: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("Expected 1 packet, got %d", len(packets))
	}
	got := packets[0]
	if got.ID != id {
		t.Errorf("Expected id %d, got %d", id, got.ID)
	}
	if got.FromID != record.FromID || got.ToID != record.ToID {
		t.Errorf("Addressing mismatch: got from=%d to=%d", got.FromID, got.ToID)
	}
	if got.Text == nil || *got.Text != text {
		t.Errorf("Expected text %q, got %v", text, got.Text)
	}
	if got.Details["decodeStatus"] != "decoded" {
		t.Errorf("Expected decodeStatus decoded, got %v", got.Details["decodeStatus"])
	}

	packets, err = store.RecentPackets(ctx, PacketFilter{Portnums: []int32{3}})
	if err != nil {
		t.Fatalf("Failed to query filtered packets: %v", err)
	}
	if len(packets) != 0 {
		t.Errorf("Expected portnum filter to exclude packet, got %d rows", len(packets))
	}
}

func TestPostgresStoreNodeNames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	store, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.UpsertNodeName(ctx, 0x1234, "Base Camp", "BC"); err != nil {
		t.Fatalf("Failed to upsert node name: %v", err)
	}
	if err := store.UpsertNodeName(ctx, 0x1234, "", "BC2"); err != nil {
		t.Fatalf("Failed to merge node name: %v", err)
	}

	node, err := store.GetNode(ctx, 0x1234)
	if err != nil {
		t.Fatalf("Failed to get node: %v", err)
	}
	if node.LongName != "Base Camp" {
		t.Errorf("Expected merge to keep long name, got %q", node.LongName)
	}
	if node.ShortName != "BC2" {
		t.Errorf("Expected updated short name BC2, got %q", node.ShortName)
	}

	names, err := store.AllNodeNames(ctx)
	if err != nil {
		t.Fatalf("Failed to list node names: %v", err)
	}
	if names[0x1234].ShortName != "BC2" {
		t.Errorf("Expected cached short name BC2, got %q", names[0x1234].ShortName)
	}

	if _, err := store.GetNode(ctx, 0x9999); err != ErrNodeNotFound {
		t.Errorf("Expected ErrNodeNotFound, got %v", err)
	}
}

func TestPostgresStoreAggregates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	store, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.UpsertNodeName(ctx, 1, "One", "N1"); err != nil {
		t.Fatalf("Failed to upsert node: %v", err)
	}
	if err := store.TouchNode(ctx, 2); err != nil {
		t.Fatalf("Failed to touch node: %v", err)
	}

	now := time.Now().Unix()
	records := []*models.Record{
		{FromID: 1, ToID: 2, Portnum: ptrInt32(1), Portname: "TEXT_MESSAGE_APP", RSSI: -70, SNR: 5, CreatedAt: now},
		{FromID: 1, ToID: 2, Portnum: ptrInt32(1), Portname: "TEXT_MESSAGE_APP", RSSI: -80, SNR: 3, CreatedAt: now},
		{FromID: 2, ToID: 1, Portnum: ptrInt32(3), Portname: "POSITION_APP", RSSI: -90, SNR: -2, CreatedAt: now},
	}
	for _, record := range records {
		if _, err := store.InsertPacket(ctx, record); err != nil {
			t.Fatalf("Failed to insert packet: %v", err)
		}
	}

	summaries, err := store.NodeSummaries(ctx, PacketFilter{})
	if err != nil {
		t.Fatalf("Failed to query node summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 node summaries, got %d", len(summaries))
	}
	if summaries[0].PacketCount != 3 {
		t.Errorf("Expected 3 packets for busiest node, got %d", summaries[0].PacketCount)
	}

	edges, err := store.GraphEdges(ctx, PacketFilter{})
	if err != nil {
		t.Fatalf("Failed to query graph edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("Expected 2 edges, got %d", len(edges))
	}
	if edges[0].Count != 2 {
		t.Errorf("Expected dominant edge count 2, got %d", edges[0].Count)
	}

	counts, err := store.MetricCounts(ctx, PacketFilter{})
	if err != nil {
		t.Fatalf("Failed to query metric counts: %v", err)
	}
	if counts.TotalPackets != 3 {
		t.Errorf("Expected 3 total packets, got %d", counts.TotalPackets)
	}
	if counts.ActiveNodes != 2 {
		t.Errorf("Expected 2 active nodes, got %d", counts.ActiveNodes)
	}

	peers, err := store.NodePeers(ctx, 1, 10, PacketFilter{})
	if err != nil {
		t.Fatalf("Failed to query node peers: %v", err)
	}
	if len(peers) != 1 || peers[0].PeerID != 2 || peers[0].Count != 3 {
		t.Errorf("Unexpected peers result: %+v", peers)
	}
}
