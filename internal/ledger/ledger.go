// Package ledger is the transfer boundary used by custody and swap operations.
// A Ledger is bound to one storage transaction, so every transfer it makes
// commits or rolls back together with the record updates of the operation.
package ledger

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// AssetTransferer moves custody of a collectible from one identity to another.
// Returns domain.ErrInvalidAsset if the asset does not resolve and
// domain.ErrUnauthorized if from does not hold it.
type AssetTransferer interface {
	TransferAsset(ctx context.Context, assetID, from, to solana.PublicKey) error
}

// AssetCustodian is an AssetTransferer that can also report custody.
type AssetCustodian interface {
	AssetTransferer
	AssetOwner(ctx context.Context, assetID solana.PublicKey) (solana.PublicKey, error)
}

// Ledger wraps the account and asset stores of a transaction.
type Ledger struct {
	tx storage.Tx
}

// New binds a Ledger to tx.
func New(tx storage.Tx) *Ledger {
	return &Ledger{tx: tx}
}

// Account resolves a balance account. Returns domain.ErrInvalidAccount if it does not exist.
func (l *Ledger) Account(ctx context.Context, address solana.PublicKey) (*domain.BalanceAccount, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("%w: default account", domain.ErrInvalidAccount)
	}
	a, err := l.tx.Accounts().GetByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAccount, address)
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return a, nil
}

// Authorize checks that caller may debit account.
func (l *Ledger) Authorize(ctx context.Context, caller, account solana.PublicKey) (*domain.BalanceAccount, error) {
	a, err := l.Account(ctx, account)
	if err != nil {
		return nil, err
	}
	if caller.IsZero() || a.Authority != caller {
		return nil, fmt.Errorf("%w: %s is not the authority of %s", domain.ErrUnauthorized, caller, account)
	}
	return a, nil
}

// Transfer debits from and credits to by amount.
// A zero amount moves nothing and succeeds.
func (l *Ledger) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: default account in transfer", domain.ErrInvalidAccount)
	}
	if err := l.tx.Accounts().Transfer(ctx, from, to, amount); err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			return fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
		}
		return err
	}
	return nil
}

// TransferAsset moves a collectible held in the same storage as the balances.
func (l *Ledger) TransferAsset(ctx context.Context, assetID, from, to solana.PublicKey) error {
	if assetID.IsZero() {
		return fmt.Errorf("%w: default asset", domain.ErrInvalidAsset)
	}
	if to.IsZero() {
		return fmt.Errorf("%w: default asset receiver", domain.ErrInvalidAccount)
	}
	return l.tx.Assets().Transfer(ctx, assetID, from, to)
}

// AssetOwner returns the identity holding assetID.
func (l *Ledger) AssetOwner(ctx context.Context, assetID solana.PublicKey) (solana.PublicKey, error) {
	h, err := l.tx.Assets().GetByID(ctx, assetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return solana.PublicKey{}, fmt.Errorf("%w: %s", domain.ErrInvalidAsset, assetID)
		}
		return solana.PublicKey{}, fmt.Errorf("get asset %s: %w", assetID, err)
	}
	return h.Owner, nil
}

// EscrowAddress is the account that holds the payment of swapID while its
// asset leg settles outside the ledger. It has no authority, so only the
// swap executor moves funds out of it.
func EscrowAddress(swapID string) solana.PublicKey {
	return solana.PublicKey(sha256.Sum256([]byte("swap-escrow|" + swapID)))
}

// OpenEscrow returns the escrow account of swapID, creating it on first use.
func (l *Ledger) OpenEscrow(ctx context.Context, swapID string, nowMs int64) (solana.PublicKey, error) {
	addr := EscrowAddress(swapID)
	_, err := l.tx.Accounts().GetByAddress(ctx, addr)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return solana.PublicKey{}, fmt.Errorf("get escrow %s: %w", addr, err)
	}
	if err := l.tx.Accounts().Insert(ctx, &domain.BalanceAccount{Address: addr, UpdatedAt: nowMs}); err != nil {
		return solana.PublicKey{}, fmt.Errorf("open escrow %s: %w", addr, err)
	}
	return addr, nil
}

// TransferFailed marks err as a failed transfer step while keeping the cause
// matchable, e.g. both domain.ErrTransferFailed and domain.ErrInsufficientFunds.
func TransferFailed(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrTransferFailed, step, err)
}

var _ AssetCustodian = (*Ledger)(nil)
