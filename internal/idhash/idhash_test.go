package idhash

import (
	"testing"

	"solana-nft-custody/internal/domain"
)

func TestComputeEventID(t *testing.T) {
	tests := []struct {
		name      string
		kind      domain.EventKind
		subject   string
		actor     string
		timestamp int64
		index     int
		wantLen   int // hash length should be 64
	}{
		{
			name:      "lock event",
			kind:      domain.EventCollectionLocked,
			subject:   "CoLLectionPda111",
			actor:     "Caller111",
			timestamp: 1704067200000,
			index:     0,
			wantLen:   64,
		},
		{
			name:      "swap event",
			kind:      domain.EventSwapExecuted,
			subject:   "9f86d081884c7d659a2feaa0c55ad015",
			actor:     "Buyer222",
			timestamp: 1704067300000,
			index:     3,
			wantLen:   64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEventID(tt.kind, tt.subject, tt.actor, tt.timestamp, tt.index)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeEventID() length = %d, want %d", len(got), tt.wantLen)
			}

			// Same inputs should produce same output
			got2 := ComputeEventID(tt.kind, tt.subject, tt.actor, tt.timestamp, tt.index)
			if got != got2 {
				t.Errorf("ComputeEventID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeEventID_DifferentInputs(t *testing.T) {
	base := ComputeEventID(domain.EventCollectionLocked, "subject", "actor", 1000, 0)

	if base == ComputeEventID(domain.EventCollectionUnlocked, "subject", "actor", 1000, 0) {
		t.Error("Different kind should produce different hash")
	}
	if base == ComputeEventID(domain.EventCollectionLocked, "other", "actor", 1000, 0) {
		t.Error("Different subject should produce different hash")
	}
	if base == ComputeEventID(domain.EventCollectionLocked, "subject", "other", 1000, 0) {
		t.Error("Different actor should produce different hash")
	}
	if base == ComputeEventID(domain.EventCollectionLocked, "subject", "actor", 2000, 0) {
		t.Error("Different timestamp should produce different hash")
	}
	if base == ComputeEventID(domain.EventCollectionLocked, "subject", "actor", 1000, 1) {
		t.Error("Different index should produce different hash")
	}
}

func TestComputeSwapID(t *testing.T) {
	base := ComputeSwapID("Mint", "Seller", "Receiver", "nonce-1")

	if len(base) != 64 {
		t.Errorf("ComputeSwapID() length = %d, want 64", len(base))
	}
	if base != ComputeSwapID("Mint", "Seller", "Receiver", "nonce-1") {
		t.Error("ComputeSwapID() not deterministic")
	}
	if base == ComputeSwapID("Mint", "Seller", "Receiver", "nonce-2") {
		t.Error("Different nonce should produce different hash")
	}
	if base == ComputeSwapID("OtherMint", "Seller", "Receiver", "nonce-1") {
		t.Error("Different asset should produce different hash")
	}
}
