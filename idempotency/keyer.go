package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
)

// KeyPrefix is prepended to every generated key.
const KeyPrefix = "idem:"

// Keyer derives idempotency keys.
//
// Contract:
// - Determinism: same inputs must produce the same key across processes.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(targetID, recipient, contentHash string) string
}

// DefaultKeyer generates keys with GenerateKey.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key implements Keyer.
func (k *DefaultKeyer) Key(targetID, recipient, contentHash string) string {
	return GenerateKey(targetID, recipient, contentHash)
}

// GenerateKey returns "idem:" followed by the hex SHA-256 of the three
// inputs. Each input is length-prefixed so that shifting characters between
// fields can never produce the same key.
func GenerateKey(targetID, recipient, contentHash string) string {
	h := sha256.New()
	writeField(h, []byte(targetID))
	writeField(h, []byte(recipient))
	writeField(h, []byte(contentHash))
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes the parts that make up a message (subject, bodies,
// attachments) into the hex digest expected by GenerateKey.
func ContentHash(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		writeField(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, b []byte) {
	h.Write([]byte(strconv.Itoa(len(b))))
	h.Write([]byte{':'})
	h.Write(b)
	h.Write([]byte{'|'})
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
