package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meshwatch/meshwatch/internal/decode"
	"github.com/meshwatch/meshwatch/internal/httputil"
	"github.com/meshwatch/meshwatch/internal/logging"
	"github.com/meshwatch/meshwatch/internal/models"
	"github.com/meshwatch/meshwatch/internal/repository"
)

const (
	defaultWindowSeconds = 3600
	maxWindowSeconds     = 7 * 24 * 3600
	defaultPacketLimit   = 100
	maxPacketLimit       = 1000
	defaultNodeLimit     = 50
	maxNodeLimit         = 200
	nodePeerLimit        = 20
)

// NameSource exposes the live node-name cache. The ingest pipeline
// implements it; handlers fall back to hex labels when a name is unknown.
type NameSource interface {
	NodeNames() map[uint32]models.NodeName
}

// Handler wires HTTP routes to the store and the live name cache.
type Handler struct {
	logger    *logging.Logger
	store     repository.Store
	names     NameSource
	startTime time.Time
}

func NewHandler(logger *logging.Logger, store repository.Store, names NameSource) *Handler {
	return &Handler{
		logger:    logger,
		store:     store,
		names:     names,
		startTime: time.Now(),
	}
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// parseFilter reads the shared query parameters: window, limit, portnums,
// channel, node, gateway.
func parseFilter(r *http.Request, defaultLimit, maxLimit int) repository.PacketFilter {
	q := r.URL.Query()

	window := httputil.ParseInt64Param(q.Get("window"), defaultWindowSeconds)
	if window < 0 {
		window = defaultWindowSeconds
	}
	if window > maxWindowSeconds {
		window = maxWindowSeconds
	}

	limit := httputil.ParseIntParam(q.Get("limit"), defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := repository.PacketFilter{
		Limit:         limit,
		WindowSeconds: window,
		Portnums:      httputil.ParsePortnums(q.Get("portnums")),
		GatewayID:     q.Get("gateway"),
	}
	if channel := q.Get("channel"); channel != "" {
		if v, err := strconv.ParseUint(channel, 10, 32); err == nil {
			c := uint32(v)
			filter.Channel = &c
		}
	}
	if node := q.Get("node"); node != "" {
		if id, ok := httputil.ParseNodeID(node); ok {
			filter.NodeID = &id
		}
	}
	return filter
}

// Packets handles GET /api/packets.
func (h *Handler) Packets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	filter := parseFilter(r, defaultPacketLimit, maxPacketLimit)
	packets, err := h.store.RecentPackets(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query packets", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "packet query failed")
		return
	}

	names := h.names.NodeNames()
	events := make([]*models.LiveEvent, 0, len(packets))
	for _, packet := range packets {
		events = append(events, h.decorate(packet, names))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"packets": events})
}

// decorate turns a stored record into its API form: node labels plus route
// decoration over a copy of the details.
func (h *Handler) decorate(packet *models.StoredRecord, names map[uint32]models.NodeName) *models.LiveEvent {
	details := make(map[string]any, len(packet.Details))
	for k, v := range packet.Details {
		details[k] = v
	}
	label := func(nodeID uint32) string { return decode.NodeLabel(nodeID, names) }
	decode.DecorateRoute(packet.Portnum, details, label)

	return &models.LiveEvent{
		StoredRecord: *packet,
		FromLabel:    label(packet.FromID),
		ToLabel:      label(packet.ToID),
		Details:      details,
	}
}

// Nodes handles GET /api/nodes.
func (h *Handler) Nodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	filter := parseFilter(r, defaultPacketLimit, maxPacketLimit)
	summaries, err := h.store.NodeSummaries(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query nodes", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "node query failed")
		return
	}

	names := h.names.NodeNames()
	type nodeWithLabel struct {
		*repository.NodeSummary
		Label string `json:"label"`
	}
	out := make([]nodeWithLabel, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, nodeWithLabel{summary, decode.NodeLabel(summary.NodeID, names)})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"nodes": out})
}

// NodeByID handles GET /api/node/{id}.
func (h *Handler) NodeByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/node/")
	nodeID, ok := httputil.ParseNodeID(raw)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		if errors.Is(err, repository.ErrNodeNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "node not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to query node", "node", nodeID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "node query failed")
		return
	}

	filter := parseFilter(r, defaultNodeLimit, maxNodeLimit)
	peerFilter := filter
	peerFilter.NodeID = nil
	filter.NodeID = &nodeID

	packets, err := h.store.RecentPackets(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query node packets", "node", nodeID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "packet query failed")
		return
	}
	ports, err := h.store.PortSummaries(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query node ports", "node", nodeID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "port query failed")
		return
	}
	peers, err := h.store.NodePeers(r.Context(), nodeID, nodePeerLimit, peerFilter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query peers", "node", nodeID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "peer query failed")
		return
	}

	names := h.names.NodeNames()
	events := make([]*models.LiveEvent, 0, len(packets))
	for _, packet := range packets {
		events = append(events, h.decorate(packet, names))
	}
	type peerWithLabel struct {
		*repository.PeerSummary
		Label string `json:"label"`
	}
	labeledPeers := make([]peerWithLabel, 0, len(peers))
	for _, peer := range peers {
		labeledPeers = append(labeledPeers, peerWithLabel{peer, decode.NodeLabel(peer.PeerID, names)})
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"node":    node,
		"label":   decode.NodeLabel(nodeID, names),
		"packets": events,
		"ports":   ports,
		"peers":   labeledPeers,
	})
}

// Graph handles GET /api/graph.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	filter := parseFilter(r, defaultPacketLimit, maxPacketLimit)
	edges, err := h.store.GraphEdges(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query graph", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "graph query failed")
		return
	}

	names := h.names.NodeNames()
	type edgeWithLabels struct {
		*repository.GraphEdge
		FromLabel string `json:"fromLabel"`
		ToLabel   string `json:"toLabel"`
	}
	out := make([]edgeWithLabels, 0, len(edges))
	for _, edge := range edges {
		out = append(out, edgeWithLabels{
			GraphEdge: edge,
			FromLabel: decode.NodeLabel(edge.FromID, names),
			ToLabel:   decode.NodeLabel(edge.ToID, names),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"edges": out})
}

// Ports handles GET /api/ports.
func (h *Handler) Ports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	filter := parseFilter(r, defaultPacketLimit, maxPacketLimit)
	ports, err := h.store.PortSummaries(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query ports", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "port query failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

// Channels handles GET /api/channels.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	filter := parseFilter(r, defaultPacketLimit, maxPacketLimit)
	channels, err := h.store.ChannelSummaries(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query channels", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "channel query failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

// Metrics handles GET /api/metrics, the dashboard statistics endpoint. The
// Prometheus endpoint lives at /metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	filter := parseFilter(r, defaultPacketLimit, maxPacketLimit)
	counts, err := h.store.MetricCounts(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to query metrics", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "metrics query failed")
		return
	}

	minutes := float64(filter.WindowSeconds) / 60
	if minutes < 1 {
		minutes = 1
	}
	perMin := math.Round(float64(counts.TotalPackets)/minutes*100) / 100

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"totalPackets":  counts.TotalPackets,
		"packetsPerMin": perMin,
		"activeNodes":   counts.ActiveNodes,
		"topPorts":      counts.TopPorts,
		"medianRssi":    median(counts.RSSIValues),
		"medianSnr":     median(counts.SNRValues),
		"window":        filter.WindowSeconds,
	})
}

// median of an already sorted sample set; nil for an empty set.
func median(sorted []float64) *float64 {
	n := len(sorted)
	if n == 0 {
		return nil
	}
	var m float64
	if n%2 == 1 {
		m = sorted[n/2]
	} else {
		m = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return &m
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter) {
	httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}
