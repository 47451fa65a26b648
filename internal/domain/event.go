package domain

import "solana-nft-custody/internal/solana"

// EventKind classifies a custody event.
type EventKind string

const (
	EventCollectionCreated  EventKind = "collection_created"
	EventCollectionLocked   EventKind = "collection_locked"
	EventCollectionUnlocked EventKind = "collection_unlocked"
	EventSwapRegistered     EventKind = "swap_registered"
	EventSwapExecuted       EventKind = "swap_executed"
	EventSwapCompensated    EventKind = "swap_compensated"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// CustodyEvent is an append-only audit record of a committed state change.
// Fee fields are zero for events that move no fees.
type CustodyEvent struct {
	EventID      string           `json:"event_id"` // deterministic hash
	Kind         EventKind        `json:"kind"`
	CollectionID solana.PublicKey `json:"collection_id"`
	SwapID       string           `json:"swap_id,omitempty"`
	Actor        solana.PublicKey `json:"actor"`
	Payer        solana.PublicKey `json:"payer"`
	Receiver     solana.PublicKey `json:"receiver"`
	AssetID      solana.PublicKey `json:"asset_id"`
	Amount       uint64           `json:"amount"`
	LockFee      uint64           `json:"lock_fee"`
	ProtocolFee  uint64           `json:"protocol_fee"`
	ProtocolAcct solana.PublicKey `json:"protocol_account"`
	Timestamp    int64            `json:"timestamp"` // ms
}

// FeeTotal aggregates fees received by one account for one event kind.
type FeeTotal struct {
	Receiver solana.PublicKey `json:"receiver"`
	Kind     EventKind        `json:"kind"`
	Events   uint64           `json:"events"`
	Total    uint64           `json:"total"`
}
