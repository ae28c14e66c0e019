package models

// DecodeStatus describes the terminal outcome of decoding a single mesh frame.
// Every frame resolves to exactly one status; only StatusDecoded and
// StatusDecrypted records are ever persisted or broadcast.
type DecodeStatus string

const (
	StatusNone          DecodeStatus = "none"
	StatusDecoded       DecodeStatus = "decoded"
	StatusDecrypted     DecodeStatus = "decrypted"
	StatusDecryptFailed DecodeStatus = "decrypt_failed"
	StatusNoPayload     DecodeStatus = "no_payload"
)

// Storable reports whether a record with this status may reach the store or
// the live feed.
func (s DecodeStatus) Storable() bool {
	return s == StatusDecoded || s == StatusDecrypted
}

// BroadcastID is the node id meaning "all nodes".
const BroadcastID uint32 = 0xFFFFFFFF

// Record is the durable, broadcastable unit produced by the record assembler.
// CreatedAt is the ingest-time wall clock and the authoritative ordering key;
// RxTime is device-reported and unreliable, kept for display only.
type Record struct {
	RxTime       uint32         `json:"rxTime"`
	FromID       uint32         `json:"fromId"`
	ToID         uint32         `json:"toId"`
	Portnum      *int32         `json:"portnum,omitempty"`
	Portname     string         `json:"portname"`
	PayloadB64   *string        `json:"payloadB64,omitempty"`
	Text         *string        `json:"text,omitempty"`
	RSSI         int32          `json:"rssi"`
	SNR          float32        `json:"snr"`
	HopLimit     uint32         `json:"hopLimit"`
	HopStart     uint32         `json:"hopStart"`
	ViaMQTT      bool           `json:"viaMqtt"`
	Channel      uint32         `json:"channel"`
	GatewayID    *string        `json:"gatewayId,omitempty"`
	CreatedAt    int64          `json:"createdAt"`
	Details      map[string]any `json:"-"`
	DecodeStatus DecodeStatus   `json:"-"`
}

// StoredRecord is a Record after persistence, carrying the store-assigned id.
type StoredRecord struct {
	ID int64 `json:"id"`
	Record
}

// LiveEvent is the JSON-serializable unit delivered to live subscribers.
type LiveEvent struct {
	StoredRecord
	FromLabel string         `json:"fromLabel"`
	ToLabel   string         `json:"toLabel"`
	Details   map[string]any `json:"details,omitempty"`
}

// NodeName holds the cached human names for a node. An empty field means
// "never seen"; updates follow a merge-only rule where a present field
// overwrites and an absent field never erases a cached value.
type NodeName struct {
	LongName  string `json:"longName,omitempty"`
	ShortName string `json:"shortName,omitempty"`
}

// Merge applies the merge-only update rule and returns the result.
func (n NodeName) Merge(longName, shortName string) NodeName {
	if longName != "" {
		n.LongName = longName
	}
	if shortName != "" {
		n.ShortName = shortName
	}
	return n
}

// Node is a node identity row as persisted by the store.
type Node struct {
	NodeID    uint32 `json:"nodeId"`
	LongName  string `json:"longName,omitempty"`
	ShortName string `json:"shortName,omitempty"`
	LastSeen  int64  `json:"lastSeen"`
}
