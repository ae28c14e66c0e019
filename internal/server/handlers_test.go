package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatch/meshwatch/internal/logging"
	"github.com/meshwatch/meshwatch/internal/models"
	"github.com/meshwatch/meshwatch/internal/repository"
)

type staticNames map[uint32]models.NodeName

func (s staticNames) NodeNames() map[uint32]models.NodeName { return s }

func ptrInt32(v int32) *int32 { return &v }

func seedStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertNodeName(ctx, 0x11, "Alpha Node", "AL"))
	require.NoError(t, store.TouchNode(ctx, 0x22))

	now := time.Now().Unix()
	text := "hello"
	records := []models.Record{
		{
			FromID:    0x11,
			ToID:      0x22,
			Portnum:   ptrInt32(1),
			Portname:  "TEXT_MESSAGE_APP",
			Text:      &text,
			RSSI:      -80,
			SNR:       4,
			CreatedAt: now - 1,
			Details:   map[string]any{"decodeStatus": "decoded", "encrypted": false},
		},
		{
			FromID:    0x22,
			ToID:      models.BroadcastID,
			Portnum:   ptrInt32(3),
			Portname:  "POSITION_APP",
			RSSI:      -95,
			SNR:       -1,
			CreatedAt: now,
			Details:   map[string]any{"decodeStatus": "decoded", "encrypted": true},
		},
	}
	for _, record := range records {
		_, err := store.InsertPacket(ctx, &record)
		require.NoError(t, err)
	}
	return store
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	names := staticNames{0x11: {LongName: "Alpha Node", ShortName: "AL"}}
	return NewHandler(logging.Default(), seedStore(t), names)
}

func doGet(t *testing.T, handler http.HandlerFunc, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var body map[string]any
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	rec, body := doGet(t, h.Health, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthRejectsPost(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPackets(t *testing.T) {
	h := newTestHandler(t)
	rec, body := doGet(t, h.Packets, "/api/packets")
	require.Equal(t, http.StatusOK, rec.Code)

	packets := body["packets"].([]any)
	require.Len(t, packets, 2)

	// Newest first; the position packet was inserted last.
	first := packets[0].(map[string]any)
	assert.Equal(t, "POSITION_APP", first["portname"])
	assert.Equal(t, "!00000022", first["fromLabel"])
	assert.Equal(t, "broadcast", first["toLabel"])

	second := packets[1].(map[string]any)
	assert.Equal(t, "AL", second["fromLabel"], "short name wins over hex label")
	assert.Equal(t, "decoded", second["details"].(map[string]any)["decodeStatus"])
}

func TestPacketsPortnumFilter(t *testing.T) {
	h := newTestHandler(t)
	rec, body := doGet(t, h.Packets, "/api/packets?portnums=3")
	require.Equal(t, http.StatusOK, rec.Code)

	packets := body["packets"].([]any)
	require.Len(t, packets, 1)
	assert.Equal(t, "POSITION_APP", packets[0].(map[string]any)["portname"])
}

func TestPacketsLimitCap(t *testing.T) {
	h := newTestHandler(t)
	rec, _ := doGet(t, h.Packets, "/api/packets?limit=999999")
	assert.Equal(t, http.StatusOK, rec.Code, "oversized limit is capped, not rejected")
}

func TestNodes(t *testing.T) {
	h := newTestHandler(t)
	rec, body := doGet(t, h.Nodes, "/api/nodes")
	require.Equal(t, http.StatusOK, rec.Code)

	nodes := body["nodes"].([]any)
	require.Len(t, nodes, 2)
	busiest := nodes[0].(map[string]any)
	assert.Equal(t, float64(2), busiest["packetCount"])
}

func TestNodeByID(t *testing.T) {
	h := newTestHandler(t)

	rec, body := doGet(t, h.NodeByID, "/api/node/17")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AL", body["label"])
	node := body["node"].(map[string]any)
	assert.Equal(t, "Alpha Node", node["longName"])

	// Hex notation resolves to the same node.
	rec, body = doGet(t, h.NodeByID, "/api/node/!00000011")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AL", body["label"])

	peers := body["peers"].([]any)
	require.Len(t, peers, 1)
	assert.Equal(t, float64(0x22), peers[0].(map[string]any)["peerId"])

	// The node detail carries its own packet history and port breakdown.
	packets := body["packets"].([]any)
	require.Len(t, packets, 1)
	packet := packets[0].(map[string]any)
	assert.Equal(t, "TEXT_MESSAGE_APP", packet["portname"])
	assert.Equal(t, "AL", packet["fromLabel"])

	ports := body["ports"].([]any)
	require.Len(t, ports, 1)
	assert.Equal(t, "TEXT_MESSAGE_APP", ports[0].(map[string]any)["portname"])
}

func TestNodeByIDNotFound(t *testing.T) {
	h := newTestHandler(t)
	rec, _ := doGet(t, h.NodeByID, "/api/node/99999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNodeByIDInvalid(t *testing.T) {
	h := newTestHandler(t)
	rec, _ := doGet(t, h.NodeByID, "/api/node/notanid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraph(t *testing.T) {
	h := newTestHandler(t)
	rec, body := doGet(t, h.Graph, "/api/graph")
	require.Equal(t, http.StatusOK, rec.Code)

	edges := body["edges"].([]any)
	require.Len(t, edges, 2)
	for _, raw := range edges {
		edge := raw.(map[string]any)
		assert.NotEmpty(t, edge["fromLabel"])
		assert.NotEmpty(t, edge["toLabel"])
	}
}

func TestPortsAndChannels(t *testing.T) {
	h := newTestHandler(t)

	rec, body := doGet(t, h.Ports, "/api/ports")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["ports"].([]any), 2)

	rec, body = doGet(t, h.Channels, "/api/channels")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["channels"].([]any), 1)
}

func TestMetrics(t *testing.T) {
	h := newTestHandler(t)
	rec, body := doGet(t, h.Metrics, "/api/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, float64(2), body["totalPackets"])
	assert.Equal(t, 0.03, body["packetsPerMin"], "2 packets over the default 60-minute window")
	assert.Equal(t, float64(2), body["activeNodes"])
	assert.Equal(t, float64(-87.5), body["medianRssi"])
	assert.Equal(t, float64(1.5), body["medianSnr"])
	assert.Len(t, body["topPorts"].([]any), 2)
}

func TestMedian(t *testing.T) {
	assert.Nil(t, median(nil))
	assert.Equal(t, 3.0, *median([]float64{3}))
	assert.Equal(t, 2.5, *median([]float64{1, 2, 3, 4}))
	assert.Equal(t, 2.0, *median([]float64{1, 2, 5}))
}
