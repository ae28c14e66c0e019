package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshwatch_frames_total",
			Help: "Total number of MQTT frames received, by outcome",
		},
		[]string{"status"},
	)

	FrameBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwatch_frame_bytes_total",
			Help: "Total bytes of envelope payload received",
		},
	)

	PacketsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshwatch_packets_decoded_total",
			Help: "Packets stored after decoding, by decode status and portname",
		},
		[]string{"status", "portname"},
	)

	DuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwatch_duplicates_total",
			Help: "Packets dropped by the dedup window",
		},
	)

	DecodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshwatch_decode_duration_seconds",
			Help:    "Duration of envelope decode and assembly in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage metrics
	StorageErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwatch_storage_errors_total",
			Help: "Total number of storage errors",
		},
	)

	StorageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshwatch_storage_duration_seconds",
			Help:    "Duration of packet insert operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Broadcast metrics
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshwatch_websocket_clients",
			Help: "Connected websocket subscribers",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwatch_broadcast_dropped_total",
			Help: "Live events dropped because the broadcast queue was full",
		},
	)
)
