package marshal

import (
	"fmt"

	"github.com/wippyai/opcore/errors"
)

// Buffer is a zero-copy view over a byte slice shared between the script
// and native code.
type Buffer struct {
	b []byte
}

// NewBuffer allocates a zeroed buffer of n bytes.
func NewBuffer(n int) *Buffer {
	return &Buffer{b: make([]byte, n)}
}

// BufferFrom wraps p without copying it.
func BufferFrom(p []byte) *Buffer {
	return &Buffer{b: p}
}

// Bytes returns the backing memory. Writes through the slice are visible to
// every holder of the buffer.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.b
}

// Len returns the view length.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.b)
}

// Slice returns a view of b[i:j] sharing the same memory.
func (b *Buffer) Slice(i, j int) (*Buffer, error) {
	if i < 0 || j < i || j > len(b.b) {
		return nil, errors.InvalidInput(errors.PhaseOp,
			fmt.Sprintf("slice [%d:%d] out of range for buffer of length %d", i, j, len(b.b)))
	}
	return &Buffer{b: b.b[i:j:j]}, nil
}

// Detach transfers the backing memory to a new buffer. The receiver is left
// empty, so later reads through it observe a zero-length view.
func (b *Buffer) Detach() *Buffer {
	out := &Buffer{b: b.b}
	b.b = nil
	return out
}

// String renders a short diagnostic form; it never dumps the contents.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(%d)", b.Len())
}
