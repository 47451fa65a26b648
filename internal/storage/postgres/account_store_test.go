package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

func seedAccounts(t *testing.T, db *DB, accounts ...*domain.BalanceAccount) {
	t.Helper()
	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		for _, a := range accounts {
			if err := tx.Accounts().Insert(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func balanceOf(t *testing.T, db *DB, addr solana.PublicKey) uint64 {
	t.Helper()
	var bal uint64
	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.Accounts().GetByAddress(ctx, addr)
		if err != nil {
			return err
		}
		bal = a.Balance
		return nil
	})
	return bal
}

func TestAccountStore_Transfer(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	db := NewDB(pool)
	seedAccounts(t, db,
		&domain.BalanceAccount{Address: key(1), Authority: key(11), Balance: 50},
		&domain.BalanceAccount{Address: key(2), Authority: key(12), Balance: 0},
	)

	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		return tx.Accounts().Transfer(ctx, key(1), key(2), 30)
	})

	assert.Equal(t, uint64(20), balanceOf(t, db, key(1)))
	assert.Equal(t, uint64(30), balanceOf(t, db, key(2)))

	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.Accounts().GetByAddress(ctx, key(1))
		require.NoError(t, err)
		assert.Equal(t, key(11), a.Authority)
		return nil
	})
}

func TestAccountStore_TransferErrorsLeaveBalances(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	db := NewDB(pool)
	seedAccounts(t, db,
		&domain.BalanceAccount{Address: key(1), Balance: 10},
		&domain.BalanceAccount{Address: key(2), Balance: 0},
	)

	tests := []struct {
		name    string
		from    solana.PublicKey
		to      solana.PublicKey
		amount  uint64
		wantErr error
	}{
		{name: "insufficient", from: key(1), to: key(2), amount: 11, wantErr: domain.ErrInsufficientFunds},
		{name: "missing source", from: key(5), to: key(2), amount: 1, wantErr: domain.ErrInvalidAccount},
		{name: "missing destination", from: key(1), to: key(6), amount: 1, wantErr: domain.ErrInvalidAccount},
		{name: "out of range", from: key(1), to: key(2), amount: 1 << 63, wantErr: storage.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
				return tx.Accounts().Transfer(ctx, tt.from, tt.to, tt.amount)
			})
			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
		})
	}

	assert.Equal(t, uint64(10), balanceOf(t, db, key(1)))
	assert.Equal(t, uint64(0), balanceOf(t, db, key(2)))
}

func TestAccountStore_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	db := NewDB(pool)
	seedAccounts(t, db,
		&domain.BalanceAccount{Address: key(1), Balance: 100},
		&domain.BalanceAccount{Address: key(2), Balance: 0},
	)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
				return tx.Accounts().Transfer(ctx, key(1), key(2), 15)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, succeeded)
	assert.Equal(t, uint64(10), balanceOf(t, db, key(1)))
	assert.Equal(t, uint64(90), balanceOf(t, db, key(2)))
}

func TestAssetStore_Transfer(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	db := NewDB(pool)
	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		return tx.Assets().Insert(ctx, &domain.AssetHolding{AssetID: key(7), Owner: key(1)})
	})

	err := db.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.Assets().Transfer(ctx, key(7), key(2), key(3))
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = db.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.Assets().Transfer(ctx, key(8), key(1), key(3))
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAsset)

	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		return tx.Assets().Transfer(ctx, key(7), key(1), key(3))
	})
	withTx(t, db, func(ctx context.Context, tx storage.Tx) error {
		h, err := tx.Assets().GetByID(ctx, key(7))
		require.NoError(t, err)
		assert.Equal(t, key(3), h.Owner)
		return nil
	})
}
