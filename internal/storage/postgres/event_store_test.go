package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/storage"
)

func TestEventStore_InsertBulkAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	db := NewDB(pool)
	collection := key(20)

	events := []*domain.CustodyEvent{
		{EventID: "e2", Kind: domain.EventCollectionLocked, CollectionID: collection, Payer: key(1), Receiver: key(4), LockFee: 10, ProtocolFee: 5, ProtocolAcct: key(2), Timestamp: 2000},
		{EventID: "e1", Kind: domain.EventCollectionCreated, CollectionID: collection, Actor: key(1), Timestamp: 1000},
		{EventID: "e3", Kind: domain.EventSwapExecuted, SwapID: "swap-1", AssetID: key(7), Amount: 30, Timestamp: 3000},
	}

	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		return tx.Events().InsertBulk(ctx, events)
	})

	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.Events().GetByCollectionID(ctx, collection)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "e1", got[0].EventID)
		assert.Equal(t, "e2", got[1].EventID)
		assert.Equal(t, events[0], got[1])

		bySwap, err := tx.Events().GetBySwapID(ctx, "swap-1")
		require.NoError(t, err)
		require.Len(t, bySwap, 1)
		assert.Equal(t, uint64(30), bySwap[0].Amount)
		return nil
	})
}

func TestEventStore_DuplicateFailsWholeBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	db := NewDB(pool)
	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		return tx.Events().InsertBulk(ctx, []*domain.CustodyEvent{{EventID: "e1", Kind: domain.EventCollectionCreated, CollectionID: key(20), Timestamp: 1}})
	})

	// The duplicate is reported inside the transaction, which stays usable.
	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		err := tx.Events().InsertBulk(ctx, []*domain.CustodyEvent{
			{EventID: "e2", Kind: domain.EventCollectionLocked, CollectionID: key(20), Timestamp: 2},
			{EventID: "e1", Kind: domain.EventCollectionCreated, CollectionID: key(20), Timestamp: 1},
		})
		assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "expected ErrDuplicateKey, got %v", err)

		got, err := tx.Events().GetByCollectionID(ctx, key(20))
		require.NoError(t, err)
		assert.Len(t, got, 1)
		return nil
	})
}

func TestDB_RollbackDiscardsAllWrites(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	db := NewDB(pool)
	seedAccounts(t, db,
		&domain.BalanceAccount{Address: key(1), Balance: 100},
		&domain.BalanceAccount{Address: key(2), Balance: 0},
	)

	boom := errors.New("boom")
	err := db.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Accounts().Transfer(ctx, key(1), key(2), 10); err != nil {
			return err
		}
		if err := tx.Collections().Insert(ctx, testCollection(40)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, uint64(100), balanceOf(t, db, key(1)))
	err = db.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Collections().GetByID(ctx, key(40))
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
