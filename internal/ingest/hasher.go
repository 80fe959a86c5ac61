// Package ingest identifies uploads by content and short-circuits repeats.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hash streams r through SHA-256 and returns the lowercase hex digest.
func Hash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func HashBytes(data []byte) string {
	// bytes.Reader never fails
	hash, _ := Hash(bytes.NewReader(data))
	return hash
}
