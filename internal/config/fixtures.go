package config

import (
	"context"
	"errors"
	"fmt"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// Fixtures seed a memory backend with balance accounts and asset holdings.
// Both are created outside this service in production.
type Fixtures struct {
	Accounts []AccountFixture `yaml:"accounts"`
	Assets   []AssetFixture   `yaml:"assets"`
}

type AccountFixture struct {
	Address   string `yaml:"address"`
	Authority string `yaml:"authority"`
	Balance   uint64 `yaml:"balance"`
}

type AssetFixture struct {
	Asset string `yaml:"asset"`
	Owner string `yaml:"owner"`
}

func (f Fixtures) validate() error {
	var errs []error
	for i, a := range f.Accounts {
		if _, err := solana.ParsePublicKey(a.Address); err != nil {
			errs = append(errs, fmt.Errorf("fixtures.accounts[%d].address: %w", i, err))
		}
		if _, err := solana.ParsePublicKey(a.Authority); err != nil {
			errs = append(errs, fmt.Errorf("fixtures.accounts[%d].authority: %w", i, err))
		}
	}
	for i, a := range f.Assets {
		if _, err := solana.ParsePublicKey(a.Asset); err != nil {
			errs = append(errs, fmt.Errorf("fixtures.assets[%d].asset: %w", i, err))
		}
		if _, err := solana.ParsePublicKey(a.Owner); err != nil {
			errs = append(errs, fmt.Errorf("fixtures.assets[%d].owner: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Seed inserts the fixtures in one transaction. Call after Validate.
func (f Fixtures) Seed(ctx context.Context, db storage.TxManager, nowMs int64) error {
	return db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, a := range f.Accounts {
			err := tx.Accounts().Insert(ctx, &domain.BalanceAccount{
				Address:   solana.MustParsePublicKey(a.Address),
				Authority: solana.MustParsePublicKey(a.Authority),
				Balance:   a.Balance,
				UpdatedAt: nowMs,
			})
			if err != nil {
				return fmt.Errorf("seed account %s: %w", a.Address, err)
			}
		}
		for _, h := range f.Assets {
			err := tx.Assets().Insert(ctx, &domain.AssetHolding{
				AssetID:   solana.MustParsePublicKey(h.Asset),
				Owner:     solana.MustParsePublicKey(h.Owner),
				UpdatedAt: nowMs,
			})
			if err != nil {
				return fmt.Errorf("seed asset %s: %w", h.Asset, err)
			}
		}
		return nil
	})
}
