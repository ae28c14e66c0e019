package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshwatch/meshwatch/internal/broadcast"
	"github.com/meshwatch/meshwatch/internal/middleware"
)

// NewRouter constructs the API ServeMux with the standard middleware chain.
func NewRouter(h *Handler, hub *broadcast.Hub, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", h.Health)
	mux.HandleFunc("/api/packets", h.Packets)
	mux.HandleFunc("/api/nodes", h.Nodes)
	mux.HandleFunc("/api/node/", h.NodeByID)
	mux.HandleFunc("/api/graph", h.Graph)
	mux.HandleFunc("/api/ports", h.Ports)
	mux.HandleFunc("/api/channels", h.Channels)
	mux.HandleFunc("/api/metrics", h.Metrics)
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(middleware.CORS(allowedOrigins)(mux))
}
