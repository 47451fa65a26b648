package memory

import (
	"context"
	"sort"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// CollectionStore is an in-memory implementation of storage.CollectionStore.
type CollectionStore struct {
	tx *tx
}

// Insert adds a new collection. Returns ErrDuplicateKey if id exists.
func (s *CollectionStore) Insert(_ context.Context, c *domain.Collection) error {
	if c == nil || c.ID.IsZero() {
		return storage.ErrInvalidInput
	}

	data := s.tx.db.collections
	if _, exists := data[c.ID]; exists {
		return storage.ErrDuplicateKey
	}

	data[c.ID] = c.Clone()
	id := c.ID
	s.tx.record(func() { delete(data, id) })
	return nil
}

// GetByID retrieves a collection by its ID. Returns ErrNotFound if not exists.
func (s *CollectionStore) GetByID(_ context.Context, id solana.PublicKey) (*domain.Collection, error) {
	c, exists := s.tx.db.collections[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// GetForUpdate retrieves a collection. The DB writer lock already holds it exclusively.
func (s *CollectionStore) GetForUpdate(ctx context.Context, id solana.PublicKey) (*domain.Collection, error) {
	return s.GetByID(ctx, id)
}

// UpdateLockState writes locked, lock_fee_account and updated_at.
func (s *CollectionStore) UpdateLockState(_ context.Context, c *domain.Collection) error {
	if c == nil {
		return storage.ErrInvalidInput
	}

	current, exists := s.tx.db.collections[c.ID]
	if !exists {
		return storage.ErrNotFound
	}

	prevLocked, prevAccount, prevUpdated := current.Locked, current.LockFeeAccount, current.UpdatedAt
	current.Locked = c.Locked
	current.LockFeeAccount = c.LockFeeAccount
	current.UpdatedAt = c.UpdatedAt

	s.tx.record(func() {
		current.Locked = prevLocked
		current.LockFeeAccount = prevAccount
		current.UpdatedAt = prevUpdated
	})
	return nil
}

// GetByOwner retrieves all collections created by owner, ordered by created_at ASC.
func (s *CollectionStore) GetByOwner(_ context.Context, owner solana.PublicKey) ([]*domain.Collection, error) {
	var result []*domain.Collection
	for _, c := range s.tx.db.collections {
		if c.Owner == owner {
			result = append(result, c.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return result, nil
}

var _ storage.CollectionStore = (*CollectionStore)(nil)
