package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meshwatch/meshwatch/internal/models"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed store and verifies the
// connection. Run Migrate before constructing the store.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// conditions renders the filter as SQL predicates, appending bind arguments.
// NodeID is handled by the individual queries that support it.
func (s *PostgresStore) conditions(f PacketFilter, prefix string, args *[]any) []string {
	var conds []string
	if f.WindowSeconds > 0 {
		*args = append(*args, s.now().Unix()-f.WindowSeconds)
		conds = append(conds, fmt.Sprintf("%screated_at >= $%d", prefix, len(*args)))
	}
	if len(f.Portnums) > 0 {
		*args = append(*args, f.Portnums)
		conds = append(conds, fmt.Sprintf("%sportnum = ANY($%d)", prefix, len(*args)))
	}
	if f.Channel != nil {
		*args = append(*args, int64(*f.Channel))
		conds = append(conds, fmt.Sprintf("%schannel = $%d", prefix, len(*args)))
	}
	if f.GatewayID != "" {
		*args = append(*args, f.GatewayID)
		conds = append(conds, fmt.Sprintf("%sgateway_id = $%d", prefix, len(*args)))
	}
	return conds
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

func (s *PostgresStore) InsertPacket(ctx context.Context, record *models.Record) (int64, error) {
	var details []byte
	if record.Details != nil {
		raw, err := json.Marshal(record.Details)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal details: %w", err)
		}
		details = raw
	}

	query := `
		INSERT INTO packets (
			rx_time, from_id, to_id, portnum, portname, payload_b64, text, details,
			rssi, snr, hop_limit, hop_start, via_mqtt, channel, gateway_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		int64(record.RxTime), int64(record.FromID), int64(record.ToID),
		record.Portnum, record.Portname, record.PayloadB64, record.Text, details,
		record.RSSI, record.SNR, int64(record.HopLimit), int64(record.HopStart),
		record.ViaMQTT, int64(record.Channel), record.GatewayID, record.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert packet: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) TouchNode(ctx context.Context, nodeID uint32) error {
	query := `
		INSERT INTO nodes (node_id, last_seen)
		VALUES ($1, $2)
		ON CONFLICT (node_id) DO UPDATE SET last_seen = EXCLUDED.last_seen
	`
	if _, err := s.pool.Exec(ctx, query, int64(nodeID), s.now().Unix()); err != nil {
		return fmt.Errorf("failed to touch node: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertNodeName(ctx context.Context, nodeID uint32, longName, shortName string) error {
	query := `
		INSERT INTO nodes (node_id, long_name, short_name, last_seen)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		ON CONFLICT (node_id) DO UPDATE SET
			long_name = COALESCE(EXCLUDED.long_name, nodes.long_name),
			short_name = COALESCE(EXCLUDED.short_name, nodes.short_name),
			last_seen = EXCLUDED.last_seen
	`
	if _, err := s.pool.Exec(ctx, query, int64(nodeID), longName, shortName, s.now().Unix()); err != nil {
		return fmt.Errorf("failed to upsert node name: %w", err)
	}
	return nil
}

func (s *PostgresStore) AllNodeNames(ctx context.Context) (map[uint32]models.NodeName, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id, COALESCE(long_name, ''), COALESCE(short_name, '')
		FROM nodes
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query node names: %w", err)
	}
	defer rows.Close()

	names := make(map[uint32]models.NodeName)
	for rows.Next() {
		var (
			nodeID int64
			name   models.NodeName
		)
		if err := rows.Scan(&nodeID, &name.LongName, &name.ShortName); err != nil {
			return nil, fmt.Errorf("failed to scan node name: %w", err)
		}
		names[uint32(nodeID)] = name
	}
	return names, rows.Err()
}

func (s *PostgresStore) GetNode(ctx context.Context, nodeID uint32) (*models.Node, error) {
	node := &models.Node{NodeID: nodeID}
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(long_name, ''), COALESCE(short_name, ''), last_seen
		FROM nodes WHERE node_id = $1
	`, int64(nodeID)).Scan(&node.LongName, &node.ShortName, &node.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

func (s *PostgresStore) RecentPackets(ctx context.Context, filter PacketFilter) ([]*models.StoredRecord, error) {
	var args []any
	conds := s.conditions(filter, "", &args)
	if filter.NodeID != nil {
		args = append(args, int64(*filter.NodeID))
		conds = append(conds, fmt.Sprintf("(from_id = $%d OR to_id = $%d)", len(args), len(args)))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`
		SELECT id, rx_time, from_id, to_id, portnum, portname, payload_b64, text, details,
		       rssi, snr, hop_limit, hop_start, via_mqtt, channel, gateway_id, created_at
		FROM packets
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, whereClause(conds), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packets: %w", err)
	}
	defer rows.Close()

	var records []*models.StoredRecord
	for rows.Next() {
		record, err := scanPacket(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanPacket(rows pgx.Rows) (*models.StoredRecord, error) {
	var (
		record                                 models.StoredRecord
		rxTime, fromID, toID, hopLimit         int64
		hopStart, channel                      int64
		details                                []byte
	)
	err := rows.Scan(
		&record.ID, &rxTime, &fromID, &toID, &record.Portnum, &record.Portname,
		&record.PayloadB64, &record.Text, &details, &record.RSSI, &record.SNR,
		&hopLimit, &hopStart, &record.ViaMQTT, &channel, &record.GatewayID,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan packet: %w", err)
	}
	record.RxTime = uint32(rxTime)
	record.FromID = uint32(fromID)
	record.ToID = uint32(toID)
	record.HopLimit = uint32(hopLimit)
	record.HopStart = uint32(hopStart)
	record.Channel = uint32(channel)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &record.Details); err != nil {
			record.Details = nil
		}
	}
	record.DecodeStatus = detailsStatus(record.Details)
	return &record, nil
}

func detailsStatus(details map[string]any) models.DecodeStatus {
	if status, ok := details["decodeStatus"].(string); ok {
		return models.DecodeStatus(status)
	}
	return models.StatusNone
}

func (s *PostgresStore) NodeSummaries(ctx context.Context, filter PacketFilter) ([]*NodeSummary, error) {
	var args []any
	conds := s.conditions(filter, "p.", &args)
	joinOn := append([]string{"(p.from_id = n.node_id OR p.to_id = n.node_id)"}, conds...)

	query := fmt.Sprintf(`
		SELECT n.node_id, COALESCE(n.long_name, ''), COALESCE(n.short_name, ''), n.last_seen,
		       COUNT(p.id), COALESCE(AVG(p.rssi), 0), COALESCE(AVG(p.snr), 0),
		       COALESCE(MAX(p.created_at), 0)
		FROM nodes n
		JOIN packets p ON %s
		GROUP BY n.node_id, n.long_name, n.short_name, n.last_seen
		ORDER BY COUNT(p.id) DESC
	`, strings.Join(joinOn, " AND "))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query node summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*NodeSummary
	for rows.Next() {
		var (
			summary NodeSummary
			nodeID  int64
		)
		err := rows.Scan(&nodeID, &summary.LongName, &summary.ShortName, &summary.LastSeen,
			&summary.PacketCount, &summary.AvgRSSI, &summary.AvgSNR, &summary.LastPacket)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node summary: %w", err)
		}
		summary.NodeID = uint32(nodeID)
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) GraphEdges(ctx context.Context, filter PacketFilter) ([]*GraphEdge, error) {
	var args []any
	conds := s.conditions(filter, "", &args)

	query := fmt.Sprintf(`
		SELECT from_id, to_id, portnum, portname, COUNT(*), MAX(created_at)
		FROM packets
		%s
		GROUP BY from_id, to_id, portnum, portname
		ORDER BY COUNT(*) DESC
	`, whereClause(conds))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query graph edges: %w", err)
	}
	defer rows.Close()

	var edges []*GraphEdge
	for rows.Next() {
		var (
			edge         GraphEdge
			fromID, toID int64
		)
		if err := rows.Scan(&fromID, &toID, &edge.Portnum, &edge.Portname, &edge.Count, &edge.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan graph edge: %w", err)
		}
		edge.FromID = uint32(fromID)
		edge.ToID = uint32(toID)
		edges = append(edges, &edge)
	}
	return edges, rows.Err()
}

func (s *PostgresStore) PortSummaries(ctx context.Context, filter PacketFilter) ([]*PortSummary, error) {
	var args []any
	conds := s.conditions(filter, "", &args)
	if filter.NodeID != nil {
		args = append(args, int64(*filter.NodeID))
		conds = append(conds, fmt.Sprintf("(from_id = $%d OR to_id = $%d)", len(args), len(args)))
	}

	query := fmt.Sprintf(`
		SELECT portnum, portname, COUNT(*), MAX(created_at)
		FROM packets
		%s
		GROUP BY portnum, portname
		ORDER BY COUNT(*) DESC
	`, whereClause(conds))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query port summaries: %w", err)
	}
	defer rows.Close()

	return scanPortSummaries(rows)
}

func scanPortSummaries(rows pgx.Rows) ([]*PortSummary, error) {
	var summaries []*PortSummary
	for rows.Next() {
		var summary PortSummary
		if err := rows.Scan(&summary.Portnum, &summary.Portname, &summary.Count, &summary.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan port summary: %w", err)
		}
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) ChannelSummaries(ctx context.Context, filter PacketFilter) ([]*ChannelSummary, error) {
	var args []any
	conds := s.conditions(filter, "", &args)

	query := fmt.Sprintf(`
		SELECT channel, COUNT(*), MAX(created_at)
		FROM packets
		%s
		GROUP BY channel
		ORDER BY COUNT(*) DESC
	`, whereClause(conds))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*ChannelSummary
	for rows.Next() {
		var (
			summary ChannelSummary
			channel int64
		)
		if err := rows.Scan(&channel, &summary.Count, &summary.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan channel summary: %w", err)
		}
		summary.Channel = uint32(channel)
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) NodePeers(ctx context.Context, nodeID uint32, limit int, filter PacketFilter) ([]*PeerSummary, error) {
	args := []any{int64(nodeID)}
	conds := s.conditions(filter, "", &args)
	args = append(args, int64(nodeID))
	conds = append(conds, fmt.Sprintf("(from_id = $%d OR to_id = $%d)", len(args), len(args)))
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT CASE WHEN from_id = $1 THEN to_id ELSE from_id END AS peer_id,
		       COUNT(*), MAX(created_at)
		FROM packets
		%s
		GROUP BY peer_id
		ORDER BY COUNT(*) DESC
		LIMIT $%d
	`, whereClause(conds), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query node peers: %w", err)
	}
	defer rows.Close()

	var peers []*PeerSummary
	for rows.Next() {
		var (
			peer   PeerSummary
			peerID int64
		)
		if err := rows.Scan(&peerID, &peer.Count, &peer.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan node peer: %w", err)
		}
		peer.PeerID = uint32(peerID)
		peers = append(peers, &peer)
	}
	return peers, rows.Err()
}

func (s *PostgresStore) MetricCounts(ctx context.Context, filter PacketFilter) (*MetricCounts, error) {
	counts := &MetricCounts{}

	var args []any
	conds := s.conditions(filter, "", &args)
	where := whereClause(conds)

	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM packets %s", where), args...,
	).Scan(&counts.TotalPackets)
	if err != nil {
		return nil, fmt.Errorf("failed to count packets: %w", err)
	}

	activeQuery := fmt.Sprintf(`
		SELECT COUNT(DISTINCT node_id)
		FROM (
			SELECT unnest(ARRAY[from_id, to_id]) AS node_id FROM packets %s
		) AS endpoints
		WHERE node_id <> %d
	`, where, int64(models.BroadcastID))
	if err := s.pool.QueryRow(ctx, activeQuery, args...).Scan(&counts.ActiveNodes); err != nil {
		return nil, fmt.Errorf("failed to count active nodes: %w", err)
	}

	topQuery := fmt.Sprintf(`
		SELECT portnum, portname, COUNT(*), MAX(created_at)
		FROM packets
		%s
		GROUP BY portnum, portname
		ORDER BY COUNT(*) DESC
		LIMIT 5
	`, where)
	rows, err := s.pool.Query(ctx, topQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top ports: %w", err)
	}
	counts.TopPorts, err = scanPortSummaries(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, sample := range []struct {
		column string
		dest   *[]float64
	}{
		{"rssi", &counts.RSSIValues},
		{"snr", &counts.SNRValues},
	} {
		query := fmt.Sprintf(`
			SELECT %s::float8 FROM packets %s ORDER BY %s LIMIT 5000
		`, sample.column, where, sample.column)
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s samples: %w", sample.column, err)
		}
		for rows.Next() {
			var value float64
			if err := rows.Scan(&value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s sample: %w", sample.column, err)
			}
			*sample.dest = append(*sample.dest, value)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return counts, nil
}
