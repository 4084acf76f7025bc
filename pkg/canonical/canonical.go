// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and content hashing shared by the provenance chain,
// checkpoint manager, and audit report generator. Equal values always
// produce equal bytes and therefore equal digests.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return canonical, nil
}

// HashBytes returns the SHA-256 digest of data in "sha256:<hex>" form.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Hash canonicalizes v and returns its content hash.
func Hash(v any) (string, error) {
	canonical, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}
