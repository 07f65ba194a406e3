package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Short returns the first n hex characters of the hash, used for
// human-readable but collision-resistant file names.
func (h Hash) Short(n int) string {
	s := string(h)
	if len(s) < n {
		return s
	}
	return s[:n]
}

// ComputeVariableHash produces a deterministic hash for a variable name.
// Model files for a candidate are addressed by this hash so retrieval is
// idempotent and independent of fit order.
func ComputeVariableHash(key VariableKey) Hash {
	return NewHash([]byte(key.String()))
}

// ComputeSpecHash produces a deterministic hash for a model specification:
// the candidate plus the ordered control list and the time/status columns.
func ComputeSpecHash(candidate VariableKey, controls []VariableKey, timeCol, statusCol VariableKey) Hash {
	var data strings.Builder
	data.WriteString(candidate.String())
	data.WriteString("|")
	for _, c := range controls {
		data.WriteString(c.String())
		data.WriteString(",")
	}
	data.WriteString("|")
	data.WriteString(timeCol.String())
	data.WriteString("|")
	data.WriteString(statusCol.String())
	return NewHash([]byte(data.String()))
}
