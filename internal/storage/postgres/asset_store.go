package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// AssetStore implements storage.AssetStore using PostgreSQL.
type AssetStore struct {
	q pgx.Tx
}

// Compile-time interface check.
var _ storage.AssetStore = (*AssetStore)(nil)

// Insert adds a new holding. Returns ErrDuplicateKey if asset_id exists.
func (s *AssetStore) Insert(ctx context.Context, h *domain.AssetHolding) error {
	if h == nil || h.AssetID.IsZero() || h.Owner.IsZero() {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO asset_holdings (asset_id, owner, updated_at) VALUES ($1, $2, $3)`

	_, err := s.q.Exec(ctx, query, keyArg(h.AssetID), keyArg(h.Owner), h.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert asset holding: %w", err)
	}
	return nil
}

// GetByID retrieves a holding. Returns ErrNotFound if not exists.
func (s *AssetStore) GetByID(ctx context.Context, assetID solana.PublicKey) (*domain.AssetHolding, error) {
	query := `SELECT asset_id, owner, updated_at FROM asset_holdings WHERE asset_id = $1`

	var h domain.AssetHolding
	var id, owner string

	err := s.q.QueryRow(ctx, query, keyArg(assetID)).Scan(&id, &owner, &h.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset holding: %w", err)
	}

	err = parseKeys(
		keyColumn{"asset_id", id, &h.AssetID},
		keyColumn{"owner", owner, &h.Owner},
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Transfer moves custody from -> to with a conditional update on the current owner.
func (s *AssetStore) Transfer(ctx context.Context, assetID, from, to solana.PublicKey) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE asset_holdings SET owner = $3 WHERE asset_id = $1 AND owner = $2`,
		keyArg(assetID), keyArg(from), keyArg(to),
	)
	if err != nil {
		return fmt.Errorf("transfer asset: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM asset_holdings WHERE asset_id = $1)`,
		keyArg(assetID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check asset holding: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAsset, assetID)
	}
	return fmt.Errorf("%w: %s does not hold %s", domain.ErrUnauthorized, from, assetID)
}
