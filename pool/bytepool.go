// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

// BytePool recycles frame buffers. Buffers whose capacity grew past the
// retain limit are left to the GC so one huge response does not pin memory.
type BytePool struct {
	p         *SyncPool[*[]byte]
	retainCap int
}

// NewBytePool creates a pool handing out empty buffers of at least sizeHint
// capacity. retainCap <= 0 retains buffers of any size.
func NewBytePool(sizeHint, retainCap int) *BytePool {
	return &BytePool{
		p: NewSyncPool(func() *[]byte {
			b := make([]byte, 0, sizeHint)
			return &b
		}),
		retainCap: retainCap,
	}
}

// GetBuffer returns a zero-length buffer from the pool.
func (b *BytePool) GetBuffer() []byte {
	return (*b.p.Get())[:0]
}

// PutBuffer returns buf to the pool. The caller must not use buf afterwards.
func (b *BytePool) PutBuffer(buf []byte) {
	if buf == nil || (b.retainCap > 0 && cap(buf) > b.retainCap) {
		return
	}
	buf = buf[:0]
	b.p.Put(&buf)
}
