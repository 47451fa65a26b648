package domain

import (
	"fmt"
	"math"

	"solana-nft-custody/internal/solana"
)

// Payload bounds for a collection record.
const (
	MaxMetadataLen = 1920
	MaxImageLen    = 8 * 1024
)

// MaxAmount bounds every fee and price. Balances are stored as signed 64-bit integers.
const MaxAmount uint64 = math.MaxInt64

// Collection is the custody record of a single collectible.
// Corresponds to collections table in PostgreSQL.
type Collection struct {
	ID                 solana.PublicKey // PDA over ("collection", owner, nft_mint)
	Metadata           string           // <= MaxMetadataLen bytes
	Image              []byte           // <= MaxImageLen bytes
	Owner              solana.PublicKey // set once at creation
	Locked             bool
	LockFeeAccount     solana.PublicKey // zero when unlocked
	LockFeeAmount      uint64           // owed on every lock and unlock
	ProtocolFeeAccount solana.PublicKey
	ProtocolFeeAmount  uint64 // owed on every lock and unlock
	NFTMint            solana.PublicKey
	SolAmount          uint64 // nominal swap price
	CreatedAt          int64  // ms
	UpdatedAt          int64  // ms
}

// ValidatePayload checks metadata and image sizes.
func ValidatePayload(metadata string, image []byte) error {
	if len(metadata) > MaxMetadataLen {
		return fmt.Errorf("%w: metadata is %d bytes, limit %d", ErrPayloadTooLarge, len(metadata), MaxMetadataLen)
	}
	if len(image) > MaxImageLen {
		return fmt.Errorf("%w: image is %d bytes, limit %d", ErrPayloadTooLarge, len(image), MaxImageLen)
	}
	return nil
}

// CheckInvariants verifies the record-level invariants.
func (c *Collection) CheckInvariants() error {
	if err := ValidatePayload(c.Metadata, c.Image); err != nil {
		return err
	}
	if c.Locked == c.LockFeeAccount.IsZero() {
		return fmt.Errorf("collection %s: locked=%t with lock fee account %q", c.ID, c.Locked, c.LockFeeAccount)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Collection) Clone() *Collection {
	cp := *c
	if c.Image != nil {
		cp.Image = append([]byte(nil), c.Image...)
	}
	return &cp
}

// ValidateAmounts checks that every named amount fits MaxAmount.
func ValidateAmounts(amounts map[string]uint64) error {
	for name, v := range amounts {
		if v > MaxAmount {
			return fmt.Errorf("%w: %s %d exceeds %d", ErrInvalidAmount, name, v, MaxAmount)
		}
	}
	return nil
}
