package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	pk[31] = b
	return pk
}

func TestFeeReportStore_InsertBulkAndFeeTotals(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFeeReportStore(conn)
	ctx := context.Background()

	events := []*domain.CustodyEvent{
		{EventID: "e1", Kind: domain.EventCollectionLocked, CollectionID: key(20), Receiver: key(1), ProtocolAcct: key(9), LockFee: 10, ProtocolFee: 5, Timestamp: 1000},
		{EventID: "e2", Kind: domain.EventCollectionUnlocked, CollectionID: key(20), Receiver: key(1), ProtocolAcct: key(9), LockFee: 10, ProtocolFee: 5, Timestamp: 2000},
		{EventID: "e3", Kind: domain.EventCollectionLocked, CollectionID: key(20), Receiver: key(1), ProtocolAcct: key(9), LockFee: 10, ProtocolFee: 5, Timestamp: 3000},
		{EventID: "e4", Kind: domain.EventSwapExecuted, SwapID: "swap-1", Receiver: key(2), Amount: 30, Timestamp: 3000},
		{EventID: "e5", Kind: domain.EventCollectionLocked, CollectionID: key(20), Receiver: key(1), ProtocolAcct: key(9), LockFee: 10, ProtocolFee: 5, Timestamp: 10},
	}
	require.NoError(t, store.InsertBulk(ctx, events))

	totals, err := store.FeeTotals(ctx, 1000)
	require.NoError(t, err)

	got := make(map[string]uint64)
	for _, ft := range totals {
		got[ft.Receiver.String()+"|"+ft.Kind.String()] = ft.Total
	}
	assert.Equal(t, map[string]uint64{
		key(1).String() + "|collection_locked":   20,
		key(1).String() + "|collection_unlocked": 10,
		key(9).String() + "|collection_locked":   10,
		key(9).String() + "|collection_unlocked": 5,
	}, got)
}

func TestFeeReportStore_Duplicates(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFeeReportStore(conn)
	ctx := context.Background()

	e := &domain.CustodyEvent{EventID: "dup", Kind: domain.EventCollectionCreated, CollectionID: key(20), Timestamp: 1}
	require.NoError(t, store.InsertBulk(ctx, []*domain.CustodyEvent{e}))

	err := store.InsertBulk(ctx, []*domain.CustodyEvent{e})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	other := &domain.CustodyEvent{EventID: "other", Kind: domain.EventCollectionCreated, Timestamp: 2}
	err = store.InsertBulk(ctx, []*domain.CustodyEvent{other, other})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
