package memory

import (
	"context"
	"sort"
	"sync"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// FeeReportStore is an in-memory implementation of storage.FeeReportStore.
type FeeReportStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CustodyEvent // keyed by event_id
}

// NewFeeReportStore creates a new in-memory fee report store.
func NewFeeReportStore() *FeeReportStore {
	return &FeeReportStore{
		data: make(map[string]*domain.CustodyEvent),
	}
}

// InsertBulk appends events. Fails entire batch on any duplicate event_id.
func (s *FeeReportStore) InsertBulk(_ context.Context, events []*domain.CustodyEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.EventID] = struct{}{}
	}

	for _, e := range events {
		eventCopy := *e
		s.data[e.EventID] = &eventCopy
	}
	return nil
}

// FeeTotals sums fees per receiver and event kind for events at or after since.
func (s *FeeReportStore) FeeTotals(_ context.Context, since int64) ([]*domain.FeeTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		receiver solana.PublicKey
		kind     domain.EventKind
	}
	totals := make(map[key]*domain.FeeTotal)
	add := func(receiver solana.PublicKey, kind domain.EventKind, amount uint64) {
		k := key{receiver: receiver, kind: kind}
		t, ok := totals[k]
		if !ok {
			t = &domain.FeeTotal{Receiver: receiver, Kind: kind}
			totals[k] = t
		}
		t.Events++
		t.Total += amount
	}

	for _, e := range s.data {
		if e.Timestamp < since || !isFeeEvent(e.Kind) {
			continue
		}
		if e.LockFee > 0 {
			add(e.Receiver, e.Kind, e.LockFee)
		}
		if e.ProtocolFee > 0 {
			add(e.ProtocolAcct, e.Kind, e.ProtocolFee)
		}
	}

	result := make([]*domain.FeeTotal, 0, len(totals))
	for _, t := range totals {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		ri, rj := result[i].Receiver.String(), result[j].Receiver.String()
		if ri != rj {
			return ri < rj
		}
		return result[i].Kind < result[j].Kind
	})
	return result, nil
}

func isFeeEvent(kind domain.EventKind) bool {
	return kind == domain.EventCollectionLocked || kind == domain.EventCollectionUnlocked
}

var _ storage.FeeReportStore = (*FeeReportStore)(nil)
