package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainEntity   = "actionc/entity/v1"
	DomainArtifact = "actionc/artifact/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntityHash computes the content hash of an entity definition.
// Two definitions that differ only in map iteration order or Unicode
// normalization hash identically.
func EntityHash(e *EntityDefinition) (string, error) {
	canonical, err := CanonicalOf(e)
	if err != nil {
		return "", fmt.Errorf("EntityHash: failed to marshal %s: %w", e.Name, err)
	}
	return hashWithDomain(DomainEntity, canonical), nil
}

// ArtifactHash computes the content hash of generated SQL text.
func ArtifactHash(content string) string {
	return hashWithDomain(DomainArtifact, []byte(content))
}
