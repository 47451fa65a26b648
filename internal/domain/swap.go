package domain

import "solana-nft-custody/internal/solana"

// SwapStatus is the lifecycle state of a swap record.
type SwapStatus string

const (
	SwapStatusOpen     SwapStatus = "open"
	SwapStatusSettling SwapStatus = "settling" // balance moved, external asset transfer pending
	SwapStatusExecuted SwapStatus = "executed"
)

// IsValid checks if the status is a known value.
func (s SwapStatus) IsValid() bool {
	return s == SwapStatusOpen || s == SwapStatusSettling || s == SwapStatusExecuted
}

// Swap is a prepared exchange of a collectible for settlement balance.
// Corresponds to swaps table in PostgreSQL.
type Swap struct {
	ID                     string           // deterministic hash, see idhash.ComputeSwapID
	AssetID                solana.PublicKey // collectible mint
	Seller                 solana.PublicKey // current custodian of the asset
	SellerReceivingAccount solana.PublicKey // balance account credited on execution
	Status                 SwapStatus
	Buyer                  solana.PublicKey // zero until executed
	Amount                 uint64           // settled amount, zero until executed
	CreatedAt              int64            // ms
	ExecutedAt             *int64           // ms (nullable)
}

// Clone returns a deep copy.
func (s *Swap) Clone() *Swap {
	cp := *s
	if s.ExecutedAt != nil {
		v := *s.ExecutedAt
		cp.ExecutedAt = &v
	}
	return &cp
}
