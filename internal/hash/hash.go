// Package hash fingerprints file contents. A project picks its algorithm at
// init time and keeps it for its whole history.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/xxh3"

	"pebble/internal/errors"
)

const (
	SHA256  = "sha256"
	XXH3    = "xxh3"
	Default = SHA256
)

// Hasher is a pure fingerprint function over bytes.
type Hasher interface {
	Name() string
	// Sum returns the lowercase hex fingerprint of data.
	Sum(data []byte) string
	// Size is the length of a fingerprint in hex characters.
	Size() int
	// Valid reports whether s has the shape of a fingerprint from this hasher.
	Valid(s string) bool
}

func New(name string) (Hasher, error) {
	switch name {
	case "", SHA256:
		return sha256Hasher{}, nil
	case XXH3:
		return xxh3Hasher{}, nil
	}
	return nil, errors.NotFound(fmt.Sprintf("unknown hash algorithm %q", name))
}

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return SHA256 }

func (sha256Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (sha256Hasher) Size() int { return sha256.Size * 2 }

func (h sha256Hasher) Valid(s string) bool { return validHex(s, h.Size()) }

// xxh3Hasher uses the 128-bit variant; 64 bits is too narrow for content
// identity across a long history.
type xxh3Hasher struct{}

func (xxh3Hasher) Name() string { return XXH3 }

func (xxh3Hasher) Sum(data []byte) string {
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}

func (xxh3Hasher) Size() int { return 32 }

func (h xxh3Hasher) Valid(s string) bool { return validHex(s, h.Size()) }

func validHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
