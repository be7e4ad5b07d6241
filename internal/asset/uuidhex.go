package asset

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// HexLen is the length, in ASCII characters, of the raw (unhyphenated) hex
// encoding of a UUID as it appears on the wire and as the LocalStore key.
const HexLen = 32

// ErrBadUUID indicates a UUID slot contained non-hexadecimal characters.
var ErrBadUUID = errors.New("asset: uuid is not valid hex")

// ParseHex32 decodes a 32-character ASCII hex string (either case) into a
// UUID. It rejects strings of any other length or containing non-hex
// characters.
func ParseHex32(s string) (uuid.UUID, error) {
	if len(s) != HexLen {
		return uuid.Nil, ErrBadUUID
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return uuid.Nil, ErrBadUUID
	}
	return uuid.FromBytes(b)
}

// ToHex32 returns the lowercase, unhyphenated 32-hex-character form of id.
func ToHex32(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}
