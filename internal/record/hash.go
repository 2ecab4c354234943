package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSurrogate = "silverlake/surrogate/v1"
	DomainRow       = "silverlake/row/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SurrogateKey computes the content-addressed surrogate key for one version
// of an entity. It is a pure function of (table, natural key, version), so
// replaying the same merge produces the same surrogate keys.
func SurrogateKey(table string, key Key, version int) (string, error) {
	obj := map[string]Value{
		"table":   String(table),
		"key":     String(key),
		"version": Int(version),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SurrogateKey: %w", err)
	}
	return hashWithDomain(DomainSurrogate, canonical), nil
}

// RowHash computes a content hash over the tracked (non-key) attributes of
// a record. Two records with equal tracked values under the schema produce
// the same hash regardless of map iteration order.
func RowHash(s *Schema, r Record) (string, error) {
	tracked := make(map[string]Value)
	for _, name := range s.TrackedAttributes() {
		tracked[name] = valueAt(r, name)
	}
	canonical, err := MarshalCanonical(tracked)
	if err != nil {
		return "", fmt.Errorf("RowHash: %w", err)
	}
	return hashWithDomain(DomainRow, canonical), nil
}
