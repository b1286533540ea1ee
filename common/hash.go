package common

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
)

// Hasher accumulates byte chunks into a SHA-256 content hash rendered as
// lowercase hex. Block inner hashes, app prefix hashes, execution hashes and
// cache keys all go through it so that hashing stays uniform across the
// engine.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Update appends a chunk to the hash input. Chunks are hashed in the order
// they are added.
func (h *Hasher) Update(p []byte) *Hasher {
	h.h.Write(p)
	return h
}

// UpdateString appends the UTF-8 bytes of s to the hash input.
func (h *Hasher) UpdateString(s string) *Hasher {
	return h.Update([]byte(s))
}

// Finalize returns the lowercase hex digest of everything added so far.
func (h *Hasher) Finalize() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// HashStrings hashes the concatenation of the given chunks.
func HashStrings(chunks ...string) string {
	h := NewHasher()
	for _, c := range chunks {
		h.UpdateString(c)
	}
	return h.Finalize()
}

// HashBytes returns the lowercase hex SHA-256 of p.
func HashBytes(p []byte) string {
	sum := sha256.Sum256(p)
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON serializes v into the canonical form used for hashing:
// object keys sorted, no insignificant whitespace, numbers rendered as their
// source literal when v was decoded with UseNumber. encoding/json already
// sorts map keys and emits compact output, so canonicalization is a single
// json.Marshal; values that did not originate from ParseJSON are marshaled
// as they are, with no decode/re-encode pass.
func CanonicalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return b, nil
}

// CanonicalString is CanonicalJSON returning a string, with "null" for nil.
func CanonicalString(v interface{}) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HashValue hashes the canonical JSON serialization of v.
func HashValue(v interface{}) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// ParseJSON decodes raw JSON preserving number literals via json.Number so
// that a decode/re-encode round trip is byte-stable. All JSON entering the
// engine (dataset points, block values, configs) is decoded through it.
func ParseJSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}
