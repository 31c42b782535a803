// Package dedup computes the idempotence keys of the intake path. Inbound
// messages dedup on (source, provider message id); documents on the
// content hash of their raw bytes.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DocumentHash is the canonical content key: lowercase hex SHA-256 over
// the raw bytes.
func DocumentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SyntheticMessageID substitutes for a missing provider Message-ID so the
// same raw message still dedups.
func SyntheticMessageID(raw []byte) string {
	return "urn:sha256:" + DocumentHash(raw)
}

// MessageKey is the inbound dedup key. Both parts are lowercased: mail
// servers do not agree on Message-ID casing.
func MessageKey(source, providerMessageID string) string {
	return fmt.Sprintf("%s|%s", strings.ToLower(source), strings.ToLower(strings.TrimSpace(providerMessageID)))
}
