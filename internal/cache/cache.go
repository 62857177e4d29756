// Package cache holds the answer-cache tiers that sit in front of the answers table.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key maps a query to its tier key. The query is hashed as-is, so lookups stay
// exact: "What is X?" and "what is x?" are different entries.
func Key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "answer:" + hex.EncodeToString(sum[:])
}
