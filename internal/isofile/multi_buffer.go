package isofile

import (
	"errors"
)

var errReleased = errors.New("data has already been released")

type bufferChunk struct {
	off  uint64
	data []byte
}

// multiBuffer is a list of contiguous chunks indexed by file offset.
type multiBuffer struct {
	chunks []*bufferChunk
	start  uint64
	end    uint64
}

func (b *multiBuffer) append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.chunks = append(b.chunks, &bufferChunk{
		off:  b.end,
		data: p,
	})
	b.end += uint64(len(p))
}

func (b *multiBuffer) available(off uint64, size uint64) bool {
	return off >= b.start && off+size <= b.end
}

// readAt returns a copy of the given range.
func (b *multiBuffer) readAt(off uint64, size uint64) ([]byte, error) {
	if off < b.start {
		return nil, errReleased
	}
	if off+size > b.end {
		return nil, errors.New("range is not available yet")
	}

	out := make([]byte, size)
	n := uint64(0)

	for _, c := range b.chunks {
		cend := c.off + uint64(len(c.data))
		if cend <= off {
			continue
		}

		from := uint64(0)
		if off+n > c.off {
			from = off + n - c.off
		}

		n += uint64(copy(out[n:], c.data[from:]))
		if n == size {
			break
		}
	}

	return out, nil
}

// release frees everything before the given offset.
func (b *multiBuffer) release(off uint64) {
	if off <= b.start {
		return
	}
	if off > b.end {
		off = b.end
	}

	i := 0
	for ; i < len(b.chunks); i++ {
		c := b.chunks[i]
		cend := c.off + uint64(len(c.data))

		if cend > off {
			if c.off < off {
				c.data = c.data[off-c.off:]
				c.off = off
			}
			break
		}
	}

	b.chunks = b.chunks[i:]
	b.start = off
}

func (b *multiBuffer) size() uint64 {
	return b.end - b.start
}
