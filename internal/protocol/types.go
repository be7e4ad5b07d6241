// Package protocol implements the WHIP wire framing: the request/response
// byte layout, the request type and response code enumerations, and the
// authentication handshake frames (§4.2, §6 of the specification).
package protocol

import "errors"

// RequestType identifies the operation requested by a client frame.
type RequestType byte

// Request types, per §6.
const (
	ReqGet               RequestType = 10
	ReqPut               RequestType = 11
	ReqPurge             RequestType = 12
	ReqTest              RequestType = 13
	ReqMaintPurgeLocals  RequestType = 14
	ReqStatusGet         RequestType = 15
	ReqStoredAssetIDsGet RequestType = 16
	ReqGetDontCache      RequestType = 17
)

// Valid reports whether t is a recognized request type.
func (t RequestType) Valid() bool {
	switch t {
	case ReqGet, ReqPut, ReqPurge, ReqTest, ReqMaintPurgeLocals,
		ReqStatusGet, ReqStoredAssetIDsGet, ReqGetDontCache:
		return true
	}
	return false
}

func (t RequestType) String() string {
	switch t {
	case ReqGet:
		return "GET"
	case ReqPut:
		return "PUT"
	case ReqPurge:
		return "PURGE"
	case ReqTest:
		return "TEST"
	case ReqMaintPurgeLocals:
		return "MAINT_PURGELOCALS"
	case ReqStatusGet:
		return "STATUS_GET"
	case ReqStoredAssetIDsGet:
		return "STORED_ASSET_IDS_GET"
	case ReqGetDontCache:
		return "GET_DONTCACHE"
	default:
		return "UNKNOWN"
	}
}

// ResponseCode identifies the outcome carried by a server response frame.
type ResponseCode byte

// Response codes, per §6.
const (
	RCFound    ResponseCode = 0x00
	RCNotFound ResponseCode = 0x01
	RCError    ResponseCode = 0x02
	RCOK       ResponseCode = 0x03
)

func (c ResponseCode) String() string {
	switch c {
	case RCFound:
		return "FOUND"
	case RCNotFound:
		return "NOT_FOUND"
	case RCError:
		return "ERROR"
	case RCOK:
		return "OK"
	default:
		return "UNKNOWN"
	}
}

// Framing errors.
var (
	ErrUnknownType   = errors.New("protocol: unknown request type")
	ErrBadUUID       = errors.New("protocol: non-hex uuid in header")
	ErrOversizedBody = errors.New("protocol: body exceeds configured cap")
)

// DefaultMaxBodyLen is the default cap on a frame's body, per §4.2.
const DefaultMaxBodyLen = 64 << 20 // 64 MiB

// HeaderLen is the fixed size, in bytes, of a request or response header.
const HeaderLen = 37

// UUIDHexLen is the length of the ASCII hex UUID slot within a header.
const UUIDHexLen = 32
