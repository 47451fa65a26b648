package memory

import (
	"context"
	"fmt"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// AssetStore is an in-memory implementation of storage.AssetStore.
type AssetStore struct {
	tx *tx
}

// Insert adds a new holding. Returns ErrDuplicateKey if asset_id exists.
func (s *AssetStore) Insert(_ context.Context, h *domain.AssetHolding) error {
	if h == nil || h.AssetID.IsZero() || h.Owner.IsZero() {
		return storage.ErrInvalidInput
	}

	data := s.tx.db.assets
	if _, exists := data[h.AssetID]; exists {
		return storage.ErrDuplicateKey
	}

	holdingCopy := *h
	data[h.AssetID] = &holdingCopy
	id := h.AssetID
	s.tx.record(func() { delete(data, id) })
	return nil
}

// GetByID retrieves a holding. Returns ErrNotFound if not exists.
func (s *AssetStore) GetByID(_ context.Context, assetID solana.PublicKey) (*domain.AssetHolding, error) {
	h, exists := s.tx.db.assets[assetID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	holdingCopy := *h
	return &holdingCopy, nil
}

// Transfer moves custody from -> to.
func (s *AssetStore) Transfer(_ context.Context, assetID, from, to solana.PublicKey) error {
	h, exists := s.tx.db.assets[assetID]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAsset, assetID)
	}
	if h.Owner != from {
		return fmt.Errorf("%w: %s does not hold %s", domain.ErrUnauthorized, from, assetID)
	}

	prev := h.Owner
	h.Owner = to
	s.tx.record(func() { h.Owner = prev })
	return nil
}

var _ storage.AssetStore = (*AssetStore)(nil)
