package memory

import (
	"context"
	"sync"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// DB is an in-memory implementation of storage.TxManager.
// Transactions are serialized by a single writer lock; every mutation made
// inside a transaction registers an undo step that runs if the callback fails.
type DB struct {
	mu sync.Mutex

	collections map[solana.PublicKey]*domain.Collection
	swaps       map[string]*domain.Swap
	accounts    map[solana.PublicKey]*domain.BalanceAccount
	assets      map[solana.PublicKey]*domain.AssetHolding
	events      map[string]*domain.CustodyEvent
	eventOrder  []string
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		collections: make(map[solana.PublicKey]*domain.Collection),
		swaps:       make(map[string]*domain.Swap),
		accounts:    make(map[solana.PublicKey]*domain.BalanceAccount),
		assets:      make(map[solana.PublicKey]*domain.AssetHolding),
		events:      make(map[string]*domain.CustodyEvent),
	}
}

// WithTx runs fn under the writer lock and rolls back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	t := &tx{db: db}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
	}()

	if err = fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// tx is a journal of undo steps for one WithTx call.
type tx struct {
	db   *DB
	undo []func()
}

func (t *tx) record(step func()) {
	t.undo = append(t.undo, step)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) Collections() storage.CollectionStore { return &CollectionStore{tx: t} }
func (t *tx) Swaps() storage.SwapStore             { return &SwapStore{tx: t} }
func (t *tx) Accounts() storage.AccountStore       { return &AccountStore{tx: t} }
func (t *tx) Assets() storage.AssetStore           { return &AssetStore{tx: t} }
func (t *tx) Events() storage.EventStore           { return &EventStore{tx: t} }

var (
	_ storage.TxManager = (*DB)(nil)
	_ storage.Tx        = (*tx)(nil)
)
