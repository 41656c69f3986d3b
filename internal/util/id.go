// Package util holds small helpers shared across the service.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a fresh random identifier such as "msg_3f2a...". The prefix
// tags the entity type ("usr", "msg", "rft"); an empty prefix yields the
// bare hex string. 128 bits of crypto/rand keeps collisions out of the
// picture without coordination.
func NewID(prefix string) string {
	id := randomHex(16)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
