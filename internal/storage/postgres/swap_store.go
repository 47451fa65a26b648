package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	q pgx.Tx
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

const swapColumns = `id, asset_id, seller, seller_receiving_account, status, buyer, amount, created_at, executed_at`

// Insert adds a new swap. Returns ErrDuplicateKey if swap_id exists.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.Swap) error {
	if swap == nil || swap.ID == "" || !swap.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	amount, err := amountArg(swap.Amount)
	if err != nil {
		return err
	}

	query := `INSERT INTO swaps (` + swapColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.q.Exec(ctx, query,
		swap.ID,
		keyArg(swap.AssetID),
		keyArg(swap.Seller),
		keyArg(swap.SellerReceivingAccount),
		string(swap.Status),
		keyArg(swap.Buyer),
		amount,
		swap.CreatedAt,
		swap.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swap: %w", err)
	}
	return nil
}

// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(ctx context.Context, id string) (*domain.Swap, error) {
	return s.getOne(ctx, `SELECT `+swapColumns+` FROM swaps WHERE id = $1`, id)
}

// GetForUpdate retrieves a swap and holds its row lock until the transaction ends.
func (s *SwapStore) GetForUpdate(ctx context.Context, id string) (*domain.Swap, error) {
	return s.getOne(ctx, `SELECT `+swapColumns+` FROM swaps WHERE id = $1 FOR UPDATE`, id)
}

// UpdateStatus writes status, buyer, amount and executed_at. Returns ErrNotFound if not exists.
func (s *SwapStore) UpdateStatus(ctx context.Context, swap *domain.Swap) error {
	if swap == nil || !swap.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	amount, err := amountArg(swap.Amount)
	if err != nil {
		return err
	}

	query := `
		UPDATE swaps
		SET status = $2, buyer = $3, amount = $4, executed_at = $5
		WHERE id = $1
	`

	tag, err := s.q.Exec(ctx, query, swap.ID, string(swap.Status), keyArg(swap.Buyer), amount, swap.ExecutedAt)
	if err != nil {
		return fmt.Errorf("update swap status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SwapStore) getOne(ctx context.Context, query, id string) (*domain.Swap, error) {
	var swap domain.Swap
	var assetID, seller, receiving, status, buyer string
	var amount int64

	err := s.q.QueryRow(ctx, query, id).Scan(
		&swap.ID,
		&assetID,
		&seller,
		&receiving,
		&status,
		&buyer,
		&amount,
		&swap.CreatedAt,
		&swap.ExecutedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get swap: %w", err)
	}

	err = parseKeys(
		keyColumn{"asset_id", assetID, &swap.AssetID},
		keyColumn{"seller", seller, &swap.Seller},
		keyColumn{"seller_receiving_account", receiving, &swap.SellerReceivingAccount},
		keyColumn{"buyer", buyer, &swap.Buyer},
	)
	if err != nil {
		return nil, err
	}

	swap.Status = domain.SwapStatus(status)
	swap.Amount = uint64(amount)
	return &swap, nil
}
