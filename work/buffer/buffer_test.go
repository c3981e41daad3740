package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkHasConfiguredSize(t *testing.T) {
	bp := NewBufferPool(512 * 1024)

	buf := bp.Get()
	defer bp.Put(buf)

	assert.Len(t, bp.Chunk(buf), 512*1024)
	assert.Equal(t, 512*1024, bp.Size())
}

func TestReusedBuffersAreEmpty(t *testing.T) {
	bp := NewBufferPool(64)

	buf := bp.Get()
	buf.B = append(buf.B, "leftover"...)
	bp.Put(buf)

	again := bp.Get()
	assert.Equal(t, 0, again.Len())
	assert.GreaterOrEqual(t, cap(again.B), 64)
	bp.Put(again)

	bp.Put(nil)
}
