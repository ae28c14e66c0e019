// Package ingress connects the pipeline to a frame transport. MQTT is the
// native Meshtastic transport; NATS is supported for deployments that bridge
// mesh traffic onto an existing bus.
package ingress

import "context"

// Handler consumes one raw frame from the transport.
type Handler func(ctx context.Context, topic string, payload []byte)

// Source is a running subscription delivering raw frames to a Handler.
type Source interface {
	// Start connects and subscribes. Delivery begins before Start returns
	// and continues until Close.
	Start(ctx context.Context, handler Handler) error
	Close()
}
