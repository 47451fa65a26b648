package domain

import "solana-nft-custody/internal/solana"

// BalanceAccount is a settlement-balance ledger entry.
// Authority is the identity allowed to debit it.
type BalanceAccount struct {
	Address   solana.PublicKey
	Authority solana.PublicKey
	Balance   uint64
	UpdatedAt int64 // ms
}

// AssetHolding records which identity has custody of a collectible.
type AssetHolding struct {
	AssetID   solana.PublicKey
	Owner     solana.PublicKey
	UpdatedAt int64 // ms
}
