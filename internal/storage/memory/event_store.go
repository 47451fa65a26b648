package memory

import (
	"context"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	tx *tx
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.CustodyEvent) error {
	if len(events) == 0 {
		return nil
	}

	db := s.tx.db
	batchKeys := make(map[string]struct{}, len(events))

	// First pass: check for duplicates (existing + intra-batch)
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := db.events[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.EventID] = struct{}{}
	}

	// Second pass: insert all
	prevLen := len(db.eventOrder)
	for _, e := range events {
		eventCopy := *e
		db.events[e.EventID] = &eventCopy
		db.eventOrder = append(db.eventOrder, e.EventID)
	}

	s.tx.record(func() {
		for _, id := range db.eventOrder[prevLen:] {
			delete(db.events, id)
		}
		db.eventOrder = db.eventOrder[:prevLen]
	})
	return nil
}

// GetByCollectionID retrieves events for a collection in insertion order.
func (s *EventStore) GetByCollectionID(_ context.Context, id solana.PublicKey) ([]*domain.CustodyEvent, error) {
	return s.filter(func(e *domain.CustodyEvent) bool { return e.CollectionID == id }), nil
}

// GetBySwapID retrieves events for a swap in insertion order.
func (s *EventStore) GetBySwapID(_ context.Context, swapID string) ([]*domain.CustodyEvent, error) {
	return s.filter(func(e *domain.CustodyEvent) bool { return e.SwapID == swapID }), nil
}

// filter walks events in insertion order, which is timestamp order because
// transactions are serialized.
func (s *EventStore) filter(match func(*domain.CustodyEvent) bool) []*domain.CustodyEvent {
	db := s.tx.db
	var result []*domain.CustodyEvent
	for _, id := range db.eventOrder {
		e := db.events[id]
		if match(e) {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}
	return result
}

var _ storage.EventStore = (*EventStore)(nil)
