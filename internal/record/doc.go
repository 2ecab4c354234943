// Package record defines the typed data model shared by the validation,
// diff, and merge stages.
//
// A Schema fixes the attribute names, attribute types, and natural key of a
// table for its whole lifetime. A Record is one row of source data: a map
// from attribute name to a typed Value. Values form a small sealed set
// (string, int, float, date, bool, null) so that comparison and canonical
// serialization stay total and deterministic.
//
// # Canonical serialization
//
// MarshalCanonical produces byte-stable JSON for hashing and golden
// comparison: object keys sorted, strings NFC normalized, floats rendered
// with the shortest round-trip representation. Content-addressed identifiers
// (surrogate keys, row hashes) are SHA-256 over canonical bytes with a
// domain prefix, so the same inputs always produce the same identifier
// across runs and machines.
package record
