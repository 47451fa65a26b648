package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// CollectionStore implements storage.CollectionStore using PostgreSQL.
type CollectionStore struct {
	q pgx.Tx
}

// Compile-time interface check.
var _ storage.CollectionStore = (*CollectionStore)(nil)

const collectionColumns = `
	id, metadata, image, owner, locked, lock_fee_account, lock_fee_amount,
	protocol_fee_account, protocol_fee_amount, nft_mint, sol_amount, created_at, updated_at
`

// Insert adds a new collection. Returns ErrDuplicateKey if id exists.
func (s *CollectionStore) Insert(ctx context.Context, c *domain.Collection) error {
	if c == nil || c.ID.IsZero() {
		return storage.ErrInvalidInput
	}

	lockFee, err := amountArg(c.LockFeeAmount)
	if err != nil {
		return err
	}
	protocolFee, err := amountArg(c.ProtocolFeeAmount)
	if err != nil {
		return err
	}
	solAmount, err := amountArg(c.SolAmount)
	if err != nil {
		return err
	}

	image := c.Image
	if image == nil {
		image = []byte{}
	}

	query := `INSERT INTO collections (` + collectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = s.q.Exec(ctx, query,
		keyArg(c.ID),
		c.Metadata,
		image,
		keyArg(c.Owner),
		c.Locked,
		keyArg(c.LockFeeAccount),
		lockFee,
		keyArg(c.ProtocolFeeAccount),
		protocolFee,
		keyArg(c.NFTMint),
		solAmount,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isInvalidInputError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

// GetByID retrieves a collection by its ID. Returns ErrNotFound if not exists.
func (s *CollectionStore) GetByID(ctx context.Context, id solana.PublicKey) (*domain.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE id = $1`
	return s.getOne(ctx, query, id)
}

// GetForUpdate retrieves a collection and holds its row lock until the transaction ends.
func (s *CollectionStore) GetForUpdate(ctx context.Context, id solana.PublicKey) (*domain.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE id = $1 FOR UPDATE`
	return s.getOne(ctx, query, id)
}

// UpdateLockState writes locked, lock_fee_account and updated_at. Returns ErrNotFound if not exists.
func (s *CollectionStore) UpdateLockState(ctx context.Context, c *domain.Collection) error {
	if c == nil {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE collections
		SET locked = $2, lock_fee_account = $3, updated_at = $4
		WHERE id = $1
	`

	tag, err := s.q.Exec(ctx, query, keyArg(c.ID), c.Locked, keyArg(c.LockFeeAccount), c.UpdatedAt)
	if err != nil {
		if isInvalidInputError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("update collection lock state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByOwner retrieves all collections created by owner, ordered by created_at ASC.
func (s *CollectionStore) GetByOwner(ctx context.Context, owner solana.PublicKey) ([]*domain.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE owner = $1 ORDER BY created_at ASC, id ASC`

	rows, err := s.q.Query(ctx, query, keyArg(owner))
	if err != nil {
		return nil, fmt.Errorf("query collections by owner: %w", err)
	}
	defer rows.Close()

	var result []*domain.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}

	return result, nil
}

func (s *CollectionStore) getOne(ctx context.Context, query string, id solana.PublicKey) (*domain.Collection, error) {
	c, err := scanCollection(s.q.QueryRow(ctx, query, keyArg(id)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanCollection(row pgx.Row) (*domain.Collection, error) {
	var c domain.Collection
	var id, owner, lockFeeAccount, protocolFeeAccount, nftMint string
	var lockFee, protocolFee, solAmount int64

	err := row.Scan(
		&id,
		&c.Metadata,
		&c.Image,
		&owner,
		&c.Locked,
		&lockFeeAccount,
		&lockFee,
		&protocolFeeAccount,
		&protocolFee,
		&nftMint,
		&solAmount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scan collection: %w", err)
	}

	err = parseKeys(
		keyColumn{"id", id, &c.ID},
		keyColumn{"owner", owner, &c.Owner},
		keyColumn{"lock_fee_account", lockFeeAccount, &c.LockFeeAccount},
		keyColumn{"protocol_fee_account", protocolFeeAccount, &c.ProtocolFeeAccount},
		keyColumn{"nft_mint", nftMint, &c.NFTMint},
	)
	if err != nil {
		return nil, err
	}

	c.LockFeeAmount = uint64(lockFee)
	c.ProtocolFeeAmount = uint64(protocolFee)
	c.SolAmount = uint64(solAmount)
	return &c, nil
}
