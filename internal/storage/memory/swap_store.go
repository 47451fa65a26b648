package memory

import (
	"context"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/storage"
)

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	tx *tx
}

// Insert adds a new swap. Returns ErrDuplicateKey if swap_id exists.
func (s *SwapStore) Insert(_ context.Context, swap *domain.Swap) error {
	if swap == nil || swap.ID == "" || !swap.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	data := s.tx.db.swaps
	if _, exists := data[swap.ID]; exists {
		return storage.ErrDuplicateKey
	}

	data[swap.ID] = swap.Clone()
	id := swap.ID
	s.tx.record(func() { delete(data, id) })
	return nil
}

// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(_ context.Context, id string) (*domain.Swap, error) {
	swap, exists := s.tx.db.swaps[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return swap.Clone(), nil
}

// GetForUpdate retrieves a swap. The DB writer lock already holds it exclusively.
func (s *SwapStore) GetForUpdate(ctx context.Context, id string) (*domain.Swap, error) {
	return s.GetByID(ctx, id)
}

// UpdateStatus writes status, buyer, amount and executed_at.
func (s *SwapStore) UpdateStatus(_ context.Context, swap *domain.Swap) error {
	if swap == nil || !swap.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	data := s.tx.db.swaps
	prev, exists := data[swap.ID]
	if !exists {
		return storage.ErrNotFound
	}

	next := prev.Clone()
	next.Status = swap.Status
	next.Buyer = swap.Buyer
	next.Amount = swap.Amount
	next.ExecutedAt = nil
	if swap.ExecutedAt != nil {
		v := *swap.ExecutedAt
		next.ExecutedAt = &v
	}

	data[swap.ID] = next
	s.tx.record(func() { data[prev.ID] = prev })
	return nil
}

var _ storage.SwapStore = (*SwapStore)(nil)
