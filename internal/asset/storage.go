package asset

import (
	jsoniter "github.com/json-iterator/go"
)

// storageJSON is the json-iterator configuration used for the storage form.
// It is a drop-in, byte-order-independent replacement for encoding/json,
// self-describing by construction (field names are carried in the payload),
// satisfying §4.1's only requirement on the storage form.
var storageJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// storageRecord mirrors Asset with exported, stable field names so the
// on-disk encoding does not depend on the Asset struct's internal layout.
type storageRecord struct {
	ID          string `json:"id"`
	Type        int8   `json:"type"`
	Local       bool   `json:"local"`
	Temporary   bool   `json:"temporary"`
	CreateTime  int32  `json:"create_time"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Data        []byte `json:"data"`
}

// EncodeStorage produces the canonical encoding stored as the value for a
// LocalStore row.
func EncodeStorage(a *Asset) ([]byte, error) {
	rec := storageRecord{
		ID:          ToHex32(a.ID),
		Type:        a.Type,
		Local:       a.Local,
		Temporary:   a.Temporary,
		CreateTime:  a.CreateTime,
		Name:        a.Name,
		Description: a.Description,
		Data:        a.Data,
	}
	return storageJSON.Marshal(&rec)
}

// DecodeStorage reverses EncodeStorage.
func DecodeStorage(b []byte) (*Asset, error) {
	var rec storageRecord
	if err := storageJSON.Unmarshal(b, &rec); err != nil {
		return nil, ErrMalformed
	}
	id, err := ParseHex32(rec.ID)
	if err != nil {
		return nil, ErrMalformed
	}
	return &Asset{
		ID:          id,
		Type:        rec.Type,
		Local:       rec.Local,
		Temporary:   rec.Temporary,
		CreateTime:  rec.CreateTime,
		Name:        rec.Name,
		Description: rec.Description,
		Data:        rec.Data,
	}, nil
}
