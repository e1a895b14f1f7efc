package udpcast

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// fifo is the bounded queue of blocks between the reader and the sender.
// Put blocks while it is full, Take blocks while it is empty, Close marks the end of stream.
type fifo struct {
	blockSize int
	ch        chan *bytebufferpool.ByteBuffer
	pool      bytebufferpool.Pool
}

func newFifo(blocks, blockSize int) *fifo {
	return &fifo{
		blockSize: blockSize,
		ch:        make(chan *bytebufferpool.ByteBuffer, blocks),
	}
}

// Alloc returns empty block of the full size.
func (f *fifo) Alloc() *bytebufferpool.ByteBuffer {
	b := f.pool.Get()
	b.B = slices.Grow(b.B[:0], f.blockSize)[:f.blockSize]
	return b
}

// Release returns block to the pool.
func (f *fifo) Release(b *bytebufferpool.ByteBuffer) {
	f.pool.Put(b)
}

func (f *fifo) Put(ctx context.Context, b *bytebufferpool.ByteBuffer) error {
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case f.ch <- b:
		return nil
	}
}

// Take returns the next block. False is returned once the stream is closed and drained.
func (f *fifo) Take(ctx context.Context) (*bytebufferpool.ByteBuffer, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, errors.WithStack(ctx.Err())
	case b, ok := <-f.ch:
		return b, ok, nil
	}
}

func (f *fifo) Close() {
	close(f.ch)
}
