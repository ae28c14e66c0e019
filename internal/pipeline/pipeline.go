// Package pipeline drives a raw MQTT frame through decode, dedup, node
// identity tracking, persistence and live broadcast.
package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"github.com/meshwatch/meshwatch/internal/broadcast"
	"github.com/meshwatch/meshwatch/internal/decode"
	"github.com/meshwatch/meshwatch/internal/logging"
	"github.com/meshwatch/meshwatch/internal/metrics"
	"github.com/meshwatch/meshwatch/internal/models"
	"github.com/meshwatch/meshwatch/internal/repository"
)

const (
	// DefaultDedupWindow suppresses re-broadcasts of the same packet heard
	// by multiple gateways.
	DefaultDedupWindow = 6 * time.Second

	// seenHighWater triggers a prune of expired dedup signatures.
	seenHighWater = 5000
)

// Pipeline is safe for concurrent HandleFrame calls. Dedup state and the
// node-name cache share one mutex; the serialized section covers everything
// between the dedup check and the broadcast so duplicate frames racing each
// other cannot both pass.
type Pipeline struct {
	logger      *logging.Logger
	store       repository.Store
	hub         *broadcast.Hub
	keys        []string
	dedupWindow time.Duration
	now         func() time.Time

	mu    sync.Mutex
	seen  map[string]time.Time
	names map[uint32]models.NodeName
}

// New builds a Pipeline and warms the node-name cache from the store.
func New(ctx context.Context, logger *logging.Logger, store repository.Store, hub *broadcast.Hub, keys []string, dedupWindow time.Duration) (*Pipeline, error) {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	names, err := store.AllNodeNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load node names: %w", err)
	}
	logger.Info("node name cache loaded", "nodes", len(names))

	return &Pipeline{
		logger:      logger,
		store:       store,
		hub:         hub,
		keys:        keys,
		dedupWindow: dedupWindow,
		now:         time.Now,
		seen:        make(map[string]time.Time),
		names:       names,
	}, nil
}

// HandleFrame ingests one raw MQTT frame. Undecodable frames are dropped
// without error; only storage failures propagate.
func (p *Pipeline) HandleFrame(ctx context.Context, topic string, payload []byte) error {
	start := p.now()
	metrics.FrameBytesTotal.Add(float64(len(payload)))

	env := decode.ParseEnvelope(payload)
	if env == nil || env.GetPacket() == nil {
		metrics.FramesTotal.WithLabelValues("parse_failed").Inc()
		return nil
	}

	channelName := decode.ResolveChannel(topic, env)
	data, status := decode.Decrypt(env.GetPacket(), p.keys, channelName)
	record := decode.Assemble(env, data, status, start)
	metrics.FramesTotal.WithLabelValues(string(status)).Inc()
	metrics.DecodeDuration.Observe(time.Since(start).Seconds())

	if !status.Storable() {
		p.logger.Debug("frame dropped",
			"status", string(status),
			"from", fmt.Sprintf("!%08x", record.FromID),
			"topic", topic)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isDuplicate(record) {
		metrics.DuplicatesTotal.Inc()
		return nil
	}

	if data != nil && data.GetPortnum() == meshtastic.PortNum_NODEINFO_APP {
		p.applyNodeInfo(ctx, record)
	}
	p.touch(ctx, record.FromID)
	if record.ToID != models.BroadcastID {
		p.touch(ctx, record.ToID)
	}

	insertStart := p.now()
	id, err := p.store.InsertPacket(ctx, record)
	metrics.StorageDuration.Observe(time.Since(insertStart).Seconds())
	if err != nil {
		metrics.StorageErrors.Inc()
		return fmt.Errorf("failed to store packet: %w", err)
	}
	metrics.PacketsDecoded.WithLabelValues(string(status), record.Portname).Inc()

	p.publish(id, record)
	return nil
}

func (p *Pipeline) touch(ctx context.Context, nodeID uint32) {
	if err := p.store.TouchNode(ctx, nodeID); err != nil {
		p.logger.Warn("failed to touch node", "node", nodeID, "error", err)
	}
}

// isDuplicate checks the record signature against the dedup window and
// registers it. Callers must hold the lock.
func (p *Pipeline) isDuplicate(record *models.Record) bool {
	now := p.now()
	sig := signature(record)
	if last, ok := p.seen[sig]; ok && now.Sub(last) < p.dedupWindow {
		return true
	}
	p.seen[sig] = now

	if len(p.seen) > seenHighWater {
		for key, ts := range p.seen {
			if now.Sub(ts) >= p.dedupWindow {
				delete(p.seen, key)
			}
		}
	}
	return false
}

// signature identifies one gateway's report of a packet. The gateway id
// participates, so the same packet heard by two gateways produces two
// records; only repeats from the same gateway collapse.
func signature(record *models.Record) string {
	var portnum string
	if record.Portnum != nil {
		portnum = fmt.Sprintf("%d", *record.Portnum)
	}
	parts := []string{
		fmt.Sprintf("%d", record.FromID),
		fmt.Sprintf("%d", record.ToID),
		portnum,
		fmt.Sprintf("%d", record.RxTime),
		fmt.Sprintf("%d", record.Channel),
		deref(record.PayloadB64),
		deref(record.Text),
		deref(record.GatewayID),
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// applyNodeInfo merge-updates the sender's cached names from NODEINFO
// details. Some firmware nests the identity under a user block. Callers must
// hold the lock.
func (p *Pipeline) applyNodeInfo(ctx context.Context, record *models.Record) {
	longName, shortName := nodeNames(record.Details)
	if longName == "" && shortName == "" {
		return
	}
	if err := p.store.UpsertNodeName(ctx, record.FromID, longName, shortName); err != nil {
		p.logger.Warn("failed to upsert node name", "node", record.FromID, "error", err)
		return
	}
	p.names[record.FromID] = p.names[record.FromID].Merge(longName, shortName)
	p.logger.Debug("node identity updated",
		"node", fmt.Sprintf("!%08x", record.FromID),
		"long_name", longName,
		"short_name", shortName)
}

func nodeNames(details map[string]any) (string, string) {
	if details == nil {
		return "", ""
	}
	source := details
	if user, ok := details["user"].(map[string]any); ok {
		source = user
	}
	longName, _ := source["longName"].(string)
	shortName, _ := source["shortName"].(string)
	return longName, shortName
}

// publish decorates and fans out the stored record. Callers must hold the
// lock; the hub itself never blocks.
func (p *Pipeline) publish(id int64, record *models.Record) {
	details := make(map[string]any, len(record.Details))
	for k, v := range record.Details {
		details[k] = v
	}
	decode.DecorateRoute(record.Portnum, details, p.label)

	p.hub.Publish(&models.LiveEvent{
		StoredRecord: models.StoredRecord{ID: id, Record: *record},
		FromLabel:    p.label(record.FromID),
		ToLabel:      p.label(record.ToID),
		Details:      details,
	})
}

func (p *Pipeline) label(nodeID uint32) string {
	return decode.NodeLabel(nodeID, p.names)
}

// NodeNames snapshots the in-memory name cache for the HTTP layer.
func (p *Pipeline) NodeNames() map[uint32]models.NodeName {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make(map[uint32]models.NodeName, len(p.names))
	for id, name := range p.names {
		names[id] = name
	}
	return names
}
