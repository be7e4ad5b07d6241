package asset

import (
	"encoding/binary"
	"unicode/utf8"
)

// wire-form field offsets, per §6 of the specification:
//
//	offset  length  field
//	0       32      ASCII hex UUID
//	32      1       type (int8)
//	33      1       local (0/1)
//	34      1       temporary (0/1)
//	35      4       create_time (Unix seconds, big-endian int32)
//	39      1       name length L1 (<=32)
//	40      L1      name bytes (UTF-8)
//	40+L1   1       description length L2 (<=64)
//	...     L2      description bytes
//	...     4       data length L3, big-endian uint32
//	...     L3      data bytes
const wireFixedHeaderLen = HexLen + 1 + 1 + 1 + 4 + 1 // up to and including name-length byte

// EncodeWire produces the bit-exact wire-form encoding of a, as used for a
// PUT request body and a GET response body.
func EncodeWire(a *Asset) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(a.Name) || !utf8.ValidString(a.Description) {
		return nil, ErrInvalidUTF8
	}

	total := wireFixedHeaderLen + len(a.Name) + 1 + len(a.Description) + 4 + len(a.Data)
	buf := make([]byte, total)

	copy(buf[0:HexLen], ToHex32(a.ID))
	buf[HexLen] = byte(a.Type)
	buf[HexLen+1] = boolToByte(a.Local)
	buf[HexLen+2] = boolToByte(a.Temporary)
	binary.BigEndian.PutUint32(buf[HexLen+3:HexLen+7], uint32(a.CreateTime))

	off := HexLen + 7
	buf[off] = byte(len(a.Name))
	off++
	off += copy(buf[off:], a.Name)

	buf[off] = byte(len(a.Description))
	off++
	off += copy(buf[off:], a.Description)

	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(a.Data)))
	off += 4
	copy(buf[off:], a.Data)

	return buf, nil
}

// DecodeWire parses the wire-form encoding produced by EncodeWire, returning
// ErrMalformed on truncated input and ErrOutOfRange/ErrInvalidUTF8 on field
// violations.
func DecodeWire(b []byte) (*Asset, error) {
	if len(b) < wireFixedHeaderLen {
		return nil, ErrMalformed
	}

	id, err := ParseHex32(string(b[0:HexLen]))
	if err != nil {
		return nil, ErrMalformed
	}

	a := &Asset{
		ID:         id,
		Type:       int8(b[HexLen]),
		Local:      b[HexLen+1] != 0,
		Temporary:  b[HexLen+2] != 0,
		CreateTime: int32(binary.BigEndian.Uint32(b[HexLen+3 : HexLen+7])),
	}

	off := HexLen + 7
	nameLen := int(b[off])
	off++
	if nameLen > MaxNameLen {
		return nil, ErrOutOfRange
	}
	if len(b) < off+nameLen+1 {
		return nil, ErrMalformed
	}
	name := b[off : off+nameLen]
	if !utf8.Valid(name) {
		return nil, ErrInvalidUTF8
	}
	a.Name = string(name)
	off += nameLen

	descLen := int(b[off])
	off++
	if descLen > MaxDescriptionLen {
		return nil, ErrOutOfRange
	}
	if len(b) < off+descLen+4 {
		return nil, ErrMalformed
	}
	desc := b[off : off+descLen]
	if !utf8.Valid(desc) {
		return nil, ErrInvalidUTF8
	}
	a.Description = string(desc)
	off += descLen

	dataLen := binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	if uint64(len(b)-off) != uint64(dataLen) {
		return nil, ErrMalformed
	}
	if dataLen > 0 {
		a.Data = make([]byte, dataLen)
		copy(a.Data, b[off:])
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
