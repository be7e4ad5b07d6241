package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"github.com/kf6kjg/whip-lru/internal/asset"
)

// Frame is a decoded request or response: both share the same on-wire
// layout (§6), differing only in how byte 0 is interpreted by the caller.
type Frame struct {
	Type byte
	ID   uuid.UUID
	Body []byte
}

// ReadRequestFrame blocks until a complete client request frame has been
// read from r, or returns an error. maxBody bounds the accepted body
// length; pass 0 to use DefaultMaxBodyLen.
//
// The buffering is delegated to bufio.Reader: a connection is handled by a
// single dedicated goroutine (§9's thread-per-connection model), so there is
// no need for the caller to drive an explicit incremental state machine —
// ReadRequestFrame IS that state machine, just expressed as sequential
// blocking reads against a buffered stream rather than a Feed-style API.
func ReadRequestFrame(r *bufio.Reader, maxBody uint32) (*Frame, error) {
	return readFrame(r, maxBody, true)
}

// ReadResponseFrame is the response-side counterpart of ReadRequestFrame,
// used by test harnesses and any client-side tooling.
func ReadResponseFrame(r *bufio.Reader, maxBody uint32) (*Frame, error) {
	return readFrame(r, maxBody, false)
}

func readFrame(r *bufio.Reader, maxBody uint32, isRequest bool) (*Frame, error) {
	if maxBody == 0 {
		maxBody = DefaultMaxBodyLen
	}

	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	typ := header[0]
	if isRequest && !RequestType(typ).Valid() {
		return nil, ErrUnknownType
	}

	id, err := asset.ParseHex32(string(header[1 : 1+UUIDHexLen]))
	if err != nil {
		return nil, ErrBadUUID
	}

	dataLen := binary.BigEndian.Uint32(header[1+UUIDHexLen : HeaderLen])
	if dataLen > maxBody {
		return nil, ErrOversizedBody
	}

	var body []byte
	if dataLen > 0 {
		body = make([]byte, dataLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}

	return &Frame{Type: typ, ID: id, Body: body}, nil
}

// WriteFrame writes a single frame (request or response, they share a
// layout) to w in one call.
func WriteFrame(w io.Writer, typ byte, id uuid.UUID, body []byte) error {
	buf := getBuf()
	defer putBuf(buf)

	buf.WriteByte(typ)
	buf.WriteString(asset.ToHex32(id))

	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(body)))
	buf.Write(lenBytes[:])
	buf.Write(body)

	_, err := w.Write(buf.Bytes())
	return err
}
