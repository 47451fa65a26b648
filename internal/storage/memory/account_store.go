package memory

import (
	"context"
	"fmt"
	"math"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
type AccountStore struct {
	tx *tx
}

// Insert adds a new account. Returns ErrDuplicateKey if address exists.
func (s *AccountStore) Insert(_ context.Context, a *domain.BalanceAccount) error {
	if a == nil || a.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	data := s.tx.db.accounts
	if _, exists := data[a.Address]; exists {
		return storage.ErrDuplicateKey
	}

	accountCopy := *a
	data[a.Address] = &accountCopy
	addr := a.Address
	s.tx.record(func() { delete(data, addr) })
	return nil
}

// GetByAddress retrieves an account. Returns ErrNotFound if not exists.
func (s *AccountStore) GetByAddress(_ context.Context, address solana.PublicKey) (*domain.BalanceAccount, error) {
	a, exists := s.tx.db.accounts[address]
	if !exists {
		return nil, storage.ErrNotFound
	}
	accountCopy := *a
	return &accountCopy, nil
}

// Transfer debits from and credits to by amount. Both sides are validated
// before either balance changes.
func (s *AccountStore) Transfer(_ context.Context, from, to solana.PublicKey, amount uint64) error {
	data := s.tx.db.accounts

	src, ok := data[from]
	if !ok {
		return fmt.Errorf("%w: source %s", domain.ErrInvalidAccount, from)
	}
	dst, ok := data[to]
	if !ok {
		return fmt.Errorf("%w: destination %s", domain.ErrInvalidAccount, to)
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", domain.ErrInsufficientFunds, from, src.Balance, amount)
	}
	if from != to && dst.Balance > math.MaxUint64-amount {
		return fmt.Errorf("credit %s: balance overflow", to)
	}

	src.Balance -= amount
	dst.Balance += amount
	s.tx.record(func() {
		dst.Balance -= amount
		src.Balance += amount
	})
	return nil
}

var _ storage.AccountStore = (*AccountStore)(nil)
