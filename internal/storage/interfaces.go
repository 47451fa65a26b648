package storage

import (
	"context"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
)

// CollectionStore provides access to collections storage.
type CollectionStore interface {
	// Insert adds a new collection. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, c *domain.Collection) error

	// GetByID retrieves a collection by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id solana.PublicKey) (*domain.Collection, error)

	// GetForUpdate is GetByID that also holds the record exclusively until
	// the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id solana.PublicKey) (*domain.Collection, error)

	// UpdateLockState writes locked, lock_fee_account and updated_at. Returns ErrNotFound if not exists.
	UpdateLockState(ctx context.Context, c *domain.Collection) error

	// GetByOwner retrieves all collections created by owner, ordered by created_at ASC.
	GetByOwner(ctx context.Context, owner solana.PublicKey) ([]*domain.Collection, error)
}

// SwapStore provides access to swaps storage.
type SwapStore interface {
	// Insert adds a new swap. Returns ErrDuplicateKey if swap_id exists.
	Insert(ctx context.Context, s *domain.Swap) error

	// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Swap, error)

	// GetForUpdate is GetByID with an exclusive hold for the transaction.
	GetForUpdate(ctx context.Context, id string) (*domain.Swap, error)

	// UpdateStatus writes status, buyer, amount and executed_at. Returns ErrNotFound if not exists.
	UpdateStatus(ctx context.Context, s *domain.Swap) error
}

// AccountStore provides access to the settlement balance ledger.
type AccountStore interface {
	// Insert adds a new account. Returns ErrDuplicateKey if address exists.
	Insert(ctx context.Context, a *domain.BalanceAccount) error

	// GetByAddress retrieves an account. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address solana.PublicKey) (*domain.BalanceAccount, error)

	// Transfer debits from and credits to by amount.
	// Returns domain.ErrInvalidAccount if either side does not exist and
	// domain.ErrInsufficientFunds if from holds less than amount.
	// Neither side changes on error.
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error
}

// AssetStore provides access to collectible custody.
type AssetStore interface {
	// Insert adds a new holding. Returns ErrDuplicateKey if asset_id exists.
	Insert(ctx context.Context, h *domain.AssetHolding) error

	// GetByID retrieves a holding. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, assetID solana.PublicKey) (*domain.AssetHolding, error)

	// Transfer moves custody from -> to.
	// Returns domain.ErrInvalidAsset if the asset does not exist and
	// domain.ErrUnauthorized if from is not the current owner.
	Transfer(ctx context.Context, assetID, from, to solana.PublicKey) error
}

// EventStore provides access to custody_events storage.
type EventStore interface {
	// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, events []*domain.CustodyEvent) error

	// GetByCollectionID retrieves events for a collection, ordered by timestamp ASC.
	GetByCollectionID(ctx context.Context, id solana.PublicKey) ([]*domain.CustodyEvent, error)

	// GetBySwapID retrieves events for a swap, ordered by timestamp ASC.
	GetBySwapID(ctx context.Context, swapID string) ([]*domain.CustodyEvent, error)
}

// Tx groups the stores that participate in one atomic unit of work.
type Tx interface {
	Collections() CollectionStore
	Swaps() SwapStore
	Accounts() AccountStore
	Assets() AssetStore
	Events() EventStore
}

// TxManager runs fn inside a transaction. If fn returns an error every
// write made through tx is discarded; otherwise all writes commit together.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// FeeReportStore provides access to the analytics copy of custody events.
type FeeReportStore interface {
	// InsertBulk appends events. Fails entire batch on any duplicate event_id.
	InsertBulk(ctx context.Context, events []*domain.CustodyEvent) error

	// FeeTotals sums fees per receiver and event kind for events at or after since (ms).
	// Lock fees are attributed to the event receiver, protocol fees to the protocol account.
	FeeTotals(ctx context.Context, since int64) ([]*domain.FeeTotal, error)
}
