package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meshwatch/meshwatch/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It mirrors the PostgresStore query semantics.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	packets []*models.StoredRecord
	nodes   map[uint32]*models.Node
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[uint32]*models.Node),
		now:   time.Now,
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) InsertPacket(_ context.Context, record *models.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.packets = append(s.packets, &models.StoredRecord{ID: s.nextID, Record: *record})
	return s.nextID, nil
}

func (s *MemoryStore) TouchNode(_ context.Context, nodeID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := s.node(nodeID)
	node.LastSeen = s.now().Unix()
	return nil
}

func (s *MemoryStore) UpsertNodeName(_ context.Context, nodeID uint32, longName, shortName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := s.node(nodeID)
	if longName != "" {
		node.LongName = longName
	}
	if shortName != "" {
		node.ShortName = shortName
	}
	node.LastSeen = s.now().Unix()
	return nil
}

// node returns the stored node, creating it when first referenced. Callers
// must hold the lock.
func (s *MemoryStore) node(nodeID uint32) *models.Node {
	node, ok := s.nodes[nodeID]
	if !ok {
		node = &models.Node{NodeID: nodeID}
		s.nodes[nodeID] = node
	}
	return node
}

func (s *MemoryStore) AllNodeNames(_ context.Context) (map[uint32]models.NodeName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make(map[uint32]models.NodeName, len(s.nodes))
	for id, node := range s.nodes {
		names[id] = models.NodeName{LongName: node.LongName, ShortName: node.ShortName}
	}
	return names, nil
}

func (s *MemoryStore) GetNode(_ context.Context, nodeID uint32) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, ErrNodeNotFound
	}
	copied := *node
	return &copied, nil
}

func (s *MemoryStore) matches(record *models.StoredRecord, filter PacketFilter) bool {
	if filter.WindowSeconds > 0 && record.CreatedAt < s.now().Unix()-filter.WindowSeconds {
		return false
	}
	if len(filter.Portnums) > 0 {
		if record.Portnum == nil {
			return false
		}
		found := false
		for _, portnum := range filter.Portnums {
			if *record.Portnum == portnum {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Channel != nil && record.Channel != *filter.Channel {
		return false
	}
	if filter.GatewayID != "" {
		if record.GatewayID == nil || *record.GatewayID != filter.GatewayID {
			return false
		}
	}
	if filter.NodeID != nil && record.FromID != *filter.NodeID && record.ToID != *filter.NodeID {
		return false
	}
	return true
}

func (s *MemoryStore) filtered(filter PacketFilter) []*models.StoredRecord {
	var matched []*models.StoredRecord
	for _, record := range s.packets {
		if s.matches(record, filter) {
			matched = append(matched, record)
		}
	}
	return matched
}

func (s *MemoryStore) RecentPackets(_ context.Context, filter PacketFilter) ([]*models.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.filtered(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt > matched[j].CreatedAt
		}
		return matched[i].ID > matched[j].ID
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) NodeSummaries(_ context.Context, filter PacketFilter) ([]*NodeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.filtered(filter)
	summaries := make(map[uint32]*NodeSummary)
	sums := make(map[uint32]*struct{ rssi, snr float64 })
	for id, node := range s.nodes {
		for _, record := range matched {
			if record.FromID != id && record.ToID != id {
				continue
			}
			summary, ok := summaries[id]
			if !ok {
				summary = &NodeSummary{
					NodeID:    id,
					LongName:  node.LongName,
					ShortName: node.ShortName,
					LastSeen:  node.LastSeen,
				}
				summaries[id] = summary
				sums[id] = &struct{ rssi, snr float64 }{}
			}
			summary.PacketCount++
			sums[id].rssi += float64(record.RSSI)
			sums[id].snr += float64(record.SNR)
			if record.CreatedAt > summary.LastPacket {
				summary.LastPacket = record.CreatedAt
			}
		}
	}

	result := make([]*NodeSummary, 0, len(summaries))
	for id, summary := range summaries {
		summary.AvgRSSI = sums[id].rssi / float64(summary.PacketCount)
		summary.AvgSNR = sums[id].snr / float64(summary.PacketCount)
		result = append(result, summary)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PacketCount > result[j].PacketCount })
	return result, nil
}

func (s *MemoryStore) GraphEdges(_ context.Context, filter PacketFilter) ([]*GraphEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type edgeKey struct {
		from, to uint32
		portnum  int32
		hasPort  bool
	}
	edges := make(map[edgeKey]*GraphEdge)
	for _, record := range s.filtered(filter) {
		key := edgeKey{from: record.FromID, to: record.ToID}
		if record.Portnum != nil {
			key.portnum = *record.Portnum
			key.hasPort = true
		}
		edge, ok := edges[key]
		if !ok {
			edge = &GraphEdge{
				FromID:   record.FromID,
				ToID:     record.ToID,
				Portnum:  record.Portnum,
				Portname: record.Portname,
			}
			edges[key] = edge
		}
		edge.Count++
		if record.CreatedAt > edge.LastSeen {
			edge.LastSeen = record.CreatedAt
		}
	}

	result := make([]*GraphEdge, 0, len(edges))
	for _, edge := range edges {
		result = append(result, edge)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Count > result[j].Count })
	return result, nil
}

func (s *MemoryStore) portSummaries(filter PacketFilter, limit int) []*PortSummary {
	type portKey struct {
		portnum int32
		hasPort bool
		name    string
	}
	summaries := make(map[portKey]*PortSummary)
	for _, record := range s.filtered(filter) {
		key := portKey{name: record.Portname}
		if record.Portnum != nil {
			key.portnum = *record.Portnum
			key.hasPort = true
		}
		summary, ok := summaries[key]
		if !ok {
			summary = &PortSummary{Portnum: record.Portnum, Portname: record.Portname}
			summaries[key] = summary
		}
		summary.Count++
		if record.CreatedAt > summary.LastSeen {
			summary.LastSeen = record.CreatedAt
		}
	}

	result := make([]*PortSummary, 0, len(summaries))
	for _, summary := range summaries {
		result = append(result, summary)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Count > result[j].Count })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *MemoryStore) PortSummaries(_ context.Context, filter PacketFilter) ([]*PortSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portSummaries(filter, 0), nil
}

func (s *MemoryStore) ChannelSummaries(_ context.Context, filter PacketFilter) ([]*ChannelSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make(map[uint32]*ChannelSummary)
	for _, record := range s.filtered(filter) {
		summary, ok := summaries[record.Channel]
		if !ok {
			summary = &ChannelSummary{Channel: record.Channel}
			summaries[record.Channel] = summary
		}
		summary.Count++
		if record.CreatedAt > summary.LastSeen {
			summary.LastSeen = record.CreatedAt
		}
	}

	result := make([]*ChannelSummary, 0, len(summaries))
	for _, summary := range summaries {
		result = append(result, summary)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Count > result[j].Count })
	return result, nil
}

func (s *MemoryStore) NodePeers(_ context.Context, nodeID uint32, limit int, filter PacketFilter) ([]*PeerSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter.NodeID = &nodeID
	peers := make(map[uint32]*PeerSummary)
	for _, record := range s.filtered(filter) {
		peerID := record.FromID
		if record.FromID == nodeID {
			peerID = record.ToID
		}
		peer, ok := peers[peerID]
		if !ok {
			peer = &PeerSummary{PeerID: peerID}
			peers[peerID] = peer
		}
		peer.Count++
		if record.CreatedAt > peer.LastSeen {
			peer.LastSeen = record.CreatedAt
		}
	}

	result := make([]*PeerSummary, 0, len(peers))
	for _, peer := range peers {
		result = append(result, peer)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Count > result[j].Count })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) MetricCounts(_ context.Context, filter PacketFilter) (*MetricCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := &MetricCounts{}
	active := make(map[uint32]struct{})
	for _, record := range s.filtered(filter) {
		counts.TotalPackets++
		if record.FromID != models.BroadcastID {
			active[record.FromID] = struct{}{}
		}
		if record.ToID != models.BroadcastID {
			active[record.ToID] = struct{}{}
		}
		counts.RSSIValues = append(counts.RSSIValues, float64(record.RSSI))
		counts.SNRValues = append(counts.SNRValues, float64(record.SNR))
	}
	counts.ActiveNodes = int64(len(active))
	counts.TopPorts = s.portSummaries(filter, 5)
	sort.Float64s(counts.RSSIValues)
	sort.Float64s(counts.SNRValues)
	return counts, nil
}
