package optimize

import (
	"sync"
)

// BytePool recycles encode buffers. Buffers are handed out empty with at
// least the pool's capacity, so callers append into them.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, 0, size)
				return &b
			},
		},
	}
}

// Get returns an empty buffer with capacity >= the pool size.
func (p *BytePool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:0]
}

// Put recycles b. Buffers that grew past the pool size are kept as long as
// they are not more than four times larger; smaller ones are discarded.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size || cap(b) > 4*p.size {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}

func (p *BytePool) Size() int {
	return p.size
}
