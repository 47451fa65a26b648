package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeSwapID computes a deterministic swap_id using SHA256.
// Formula: SHA256(asset_id|seller|seller_receiving_account|nonce)
// Returns hex-encoded hash (64 characters).
func ComputeSwapID(
	assetID string,
	seller string,
	sellerReceivingAccount string,
	nonce string,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		assetID,
		seller,
		sellerReceivingAccount,
		nonce,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
