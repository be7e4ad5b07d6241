package protocol

import (
	"bytes"
	"sync"
)

// bufpool is a pool of reusable buffers used to assemble outgoing frames
// without an allocation per write.
var bufpool = &sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

func getBuf() *bytes.Buffer {
	return bufpool.Get().(*bytes.Buffer)
}

func putBuf(buf *bytes.Buffer) {
	buf.Reset()
	bufpool.Put(buf)
}
