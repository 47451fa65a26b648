package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of a Solana public key in bytes.
const PublicKeyLength = 32

// maxSeedLength matches the runtime limit for a single PDA seed.
const maxSeedLength = 32

const pdaMarker = "ProgramDerivedAddress"

// ErrInvalidPublicKey is returned when a string is not a base58 32-byte key.
var ErrInvalidPublicKey = errors.New("invalid public key")

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// PublicKey is a 32-byte ed25519 identity. The zero value is the default
// (unset) key.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 string into a PublicKey.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(decoded) != PublicKeyLength {
		return pk, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustParsePublicKey is ParsePublicKey for constants and tests.
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 encoding.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether pk is the default key.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string decodes
// to the zero key.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*pk = PublicKey{}
		return nil
	}
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// IsOnCurve reports whether pk decodes to a point on the ed25519 curve.
func IsOnCurve(pk PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}

// CreateProgramAddress hashes seeds with the program ID and rejects results
// that land on the curve.
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return PublicKey{}, fmt.Errorf("seed length %d exceeds %d", len(seed), maxSeedLength)
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var pk PublicKey
	copy(pk[:], h.Sum(nil))
	if IsOnCurve(pk) {
		return PublicKey{}, errors.New("derived address is on curve")
	}
	return pk, nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the first
// off-curve program address together with its bump.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump > 0; bump-- {
		withBump := make([][]byte, 0, len(seeds)+1)
		withBump = append(withBump, seeds...)
		withBump = append(withBump, []byte{byte(bump)})

		pk, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return pk, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}

// Verify checks an ed25519 signature made by pk over message.
func Verify(pk PublicKey, message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk[:]), message, signature)
}

// PublicKeyFromPrivate returns the identity of an ed25519 private key.
func PublicKeyFromPrivate(priv ed25519.PrivateKey) PublicKey {
	var pk PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return pk
}
