package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out fixed size relay buffers backed by
// valyala/bytebufferpool. Every transfer borrows one buffer for its whole
// lifetime, so memory use is bounded by chunk size times active transfers
// no matter how large the relayed file is.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool creates a new BufferPool that manages byte slices of the specified size.
func NewBufferPool(bufferSize int64) *BufferPool {
	return &BufferPool{
		bufferSize: int(bufferSize),
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves a buffer whose B slice has at least the configured capacity.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, 0, bp.bufferSize)
	}
	return buf
}

// Chunk returns the read window of buf: exactly one chunk of the configured size.
func (bp *BufferPool) Chunk(buf *bytebufferpool.ByteBuffer) []byte {
	return buf.B[:bp.bufferSize]
}

// Put returns a buffer to the pool. Nil buffers are ignored.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		buf.Reset()
		bp.pool.Put(buf)
	}
}

// Size returns the chunk size handed out by Get.
func (bp *BufferPool) Size() int {
	return bp.bufferSize
}
