// Package hashing provides the stable content hashes used for artifact
// identity, task identity and lineage.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Stable returns the hex sha256 of the RFC 8785 canonical JSON form of v.
// Object key order and insignificant whitespace never affect the result.
func Stable(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize value: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// MustStable is Stable for values known to be JSON-encodable.
func MustStable(v any) string {
	h, err := Stable(v)
	if err != nil {
		panic(err)
	}
	return h
}

// Text returns the hex sha256 of s.
func Text(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
