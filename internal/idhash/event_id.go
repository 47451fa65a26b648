package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-nft-custody/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(kind|subject|actor|timestamp|index)
// subject is the collection ID or swap ID the event belongs to.
// Returns hex-encoded hash (64 characters).
func ComputeEventID(
	kind domain.EventKind,
	subject string,
	actor string,
	timestamp int64,
	index int,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d",
		string(kind),
		subject,
		actor,
		timestamp,
		index,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
