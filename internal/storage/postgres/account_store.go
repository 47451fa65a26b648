package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// AccountStore implements storage.AccountStore using PostgreSQL.
type AccountStore struct {
	q pgx.Tx
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

// Insert adds a new account. Returns ErrDuplicateKey if address exists.
func (s *AccountStore) Insert(ctx context.Context, a *domain.BalanceAccount) error {
	if a == nil || a.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	balance, err := amountArg(a.Balance)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO balance_accounts (address, authority, balance, updated_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err = s.q.Exec(ctx, query, keyArg(a.Address), keyArg(a.Authority), balance, a.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert balance account: %w", err)
	}
	return nil
}

// GetByAddress retrieves an account. Returns ErrNotFound if not exists.
func (s *AccountStore) GetByAddress(ctx context.Context, address solana.PublicKey) (*domain.BalanceAccount, error) {
	query := `SELECT address, authority, balance, updated_at FROM balance_accounts WHERE address = $1`

	var a domain.BalanceAccount
	var addr, authority string
	var balance int64

	err := s.q.QueryRow(ctx, query, keyArg(address)).Scan(&addr, &authority, &balance, &a.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get balance account: %w", err)
	}

	err = parseKeys(
		keyColumn{"address", addr, &a.Address},
		keyColumn{"authority", authority, &a.Authority},
	)
	if err != nil {
		return nil, err
	}

	a.Balance = uint64(balance)
	return &a, nil
}

// Transfer debits from and credits to by amount.
// Both rows are locked in address order so concurrent transfers between the
// same pair cannot deadlock.
func (s *AccountStore) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	amt, err := amountArg(amount)
	if err != nil {
		return err
	}

	fromKey, toKey := keyArg(from), keyArg(to)

	rows, err := s.q.Query(ctx, `
		SELECT address, balance FROM balance_accounts
		WHERE address = ANY($1)
		ORDER BY address
		FOR UPDATE
	`, []string{fromKey, toKey})
	if err != nil {
		return fmt.Errorf("lock balance accounts: %w", err)
	}

	balances := make(map[string]int64, 2)
	for rows.Next() {
		var addr string
		var balance int64
		if err := rows.Scan(&addr, &balance); err != nil {
			rows.Close()
			return fmt.Errorf("scan balance account: %w", err)
		}
		balances[addr] = balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate balance accounts: %w", err)
	}

	srcBalance, ok := balances[fromKey]
	if !ok {
		return fmt.Errorf("%w: source %s", domain.ErrInvalidAccount, from)
	}
	if _, ok := balances[toKey]; !ok {
		return fmt.Errorf("%w: destination %s", domain.ErrInvalidAccount, to)
	}
	if srcBalance < amt {
		return fmt.Errorf("%w: %s holds %d, needs %d", domain.ErrInsufficientFunds, from, srcBalance, amt)
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE balance_accounts SET balance = balance - $2 WHERE address = $1 AND balance >= $2`,
		fromKey, amt,
	)
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, from)
	}

	_, err = s.q.Exec(ctx,
		`UPDATE balance_accounts SET balance = balance + $2 WHERE address = $1`,
		toKey, amt,
	)
	if err != nil {
		if isInvalidInputError(err) {
			return fmt.Errorf("credit %s: balance overflow", to)
		}
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}
