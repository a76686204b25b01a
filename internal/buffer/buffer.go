// Package buffer implements the bounded per-connection request buffer:
// append with an overflow guard, the "\r\n\r\n" header-terminator search,
// and post-service compaction that carries pipelined bytes forward.
package buffer

import (
	"bytes"
	"errors"
)

// Capacity is the fixed size of a request buffer.
const Capacity = 8192

// ErrOverflow is returned by Append when the appended bytes would push
// the buffer past Capacity. The caller must treat this as a 400-class
// error and close the connection.
var ErrOverflow = errors.New("buffer: request exceeds 8192 byte capacity")

// Buffer is a fixed-capacity byte buffer with an append cursor (end_idx
// in the source). It never reallocates.
type Buffer struct {
	data [Capacity]byte
	end  int
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Len returns end_idx, the length of the valid prefix.
func (b *Buffer) Len() int {
	return b.end
}

// Bytes returns the valid prefix data[:end_idx]. The returned slice
// aliases the Buffer's storage and is invalidated by the next Append or
// Compact call.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.end]
}

// Append appends p at end_idx. It fails with ErrOverflow without
// mutating the buffer if end_idx+len(p) would exceed Capacity.
func (b *Buffer) Append(p []byte) error {
	if b.end+len(p) > Capacity {
		return ErrOverflow
	}
	copy(b.data[b.end:], p)
	b.end += len(p)
	return nil
}

// FindHeaderEnd returns the offset just past the first "\r\n\r\n", or -1
// if the terminator is not present yet.
func (b *Buffer) FindHeaderEnd() int {
	idx := bytes.Index(b.data[:b.end], []byte("\r\n\r\n"))
	if idx < 0 {
		return -1
	}
	return idx + 4
}

// Compact discards the first consumed bytes (a request that has been
// fully served) and shifts any trailing pipelined bytes down to offset
// 0, zero-filling the vacated tail. It returns the new end_idx. Bytes of
// a partially-received next request are preserved verbatim.
func (b *Buffer) Compact(consumed int) int {
	if consumed >= b.end {
		b.clearFrom(0)
		b.end = 0
		return 0
	}
	remaining := b.end - consumed
	copy(b.data[:remaining], b.data[consumed:b.end])
	b.clearFrom(remaining)
	b.end = remaining
	return remaining
}

func (b *Buffer) clearFrom(from int) {
	for i := from; i < Capacity; i++ {
		b.data[i] = 0
	}
}

// Reset clears the buffer entirely.
func (b *Buffer) Reset() {
	b.clearFrom(0)
	b.end = 0
}
