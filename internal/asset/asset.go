// Package asset defines the immutable Asset record and its two codecs: the
// bit-exact wire form used on the TCP protocol, and the canonical storage
// form persisted in the local cache.
package asset

import (
	"errors"

	"github.com/google/uuid"
)

// Size limits from the wire format (§6 of the specification).
const (
	MaxNameLen        = 32
	MaxDescriptionLen = 64
)

// Sentinel errors returned by the codecs. Callers should use errors.Is.
var (
	// ErrMalformed indicates truncated input or an internally inconsistent
	// length field.
	ErrMalformed = errors.New("asset: malformed encoding")

	// ErrOutOfRange indicates a field exceeds its maximum allowed length.
	ErrOutOfRange = errors.New("asset: field exceeds maximum size")

	// ErrInvalidUTF8 indicates a name or description is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("asset: invalid utf-8")

	// ErrZeroUUID indicates an operation was attempted against the
	// reserved all-zero UUID.
	ErrZeroUUID = errors.New("asset: zero UUID not allowed")
)

// Asset is the immutable, content-addressed record served by the cache.
type Asset struct {
	ID          uuid.UUID
	Type        int8
	Local       bool
	Temporary   bool
	CreateTime  int32 // Unix seconds, UTC
	Name        string
	Description string
	Data        []byte
}

// Validate checks the struct-level invariants that both codecs must enforce:
// field lengths and a non-zero id. It does not check UTF-8 validity of
// already-decoded Go strings, since decoding from wire bytes already does so.
func (a *Asset) Validate() error {
	if a.ID == uuid.Nil {
		return ErrZeroUUID
	}
	if len(a.Name) > MaxNameLen {
		return ErrOutOfRange
	}
	if len(a.Description) > MaxDescriptionLen {
		return ErrOutOfRange
	}
	if uint64(len(a.Data)) > 1<<32-1 {
		return ErrOutOfRange
	}
	return nil
}

// Equal reports whether two assets are identical field-for-field. Used by
// property tests asserting wire round-trips.
func (a *Asset) Equal(b *Asset) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Type != b.Type || a.Local != b.Local ||
		a.Temporary != b.Temporary || a.CreateTime != b.CreateTime ||
		a.Name != b.Name || a.Description != b.Description {
		return false
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}
