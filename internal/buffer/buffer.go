// Package buffer implements the bounded two-cursor byte buffer shared by
// every session type: a read cursor, a write cursor, and a fixed capacity,
// with the invariant read <= write <= cap(data).
package buffer

// Buffer is a bounded byte buffer over a caller-sized backing array. Bytes
// are written at the write cursor and consumed at the read cursor; once the
// read cursor catches up to the write cursor the buffer auto-compacts both
// back to zero so a long-lived connection never drifts toward its capacity.
type Buffer struct {
	data  []byte
	read  int
	write int
}

// New allocates a Buffer with the given fixed capacity.
func New(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.read = 0
	b.write = 0
}

// CanRead reports whether there is at least one unread byte.
func (b *Buffer) CanRead() bool {
	return b.read < b.write
}

// CanWrite reports whether there is at least one byte of free space.
func (b *Buffer) CanWrite() bool {
	return b.write < len(b.data)
}

// Pending returns the number of unread bytes.
func (b *Buffer) Pending() int {
	return b.write - b.read
}

// Free returns the number of bytes that can still be written before the
// buffer is full (without an intervening read to compact it).
func (b *Buffer) Free() int {
	return len(b.data) - b.write
}

// ReadSlice returns the contiguous region of unread bytes. The slice is
// only valid until the next mutating call on b.
func (b *Buffer) ReadSlice() []byte {
	return b.data[b.read:b.write]
}

// WriteSlice returns the contiguous region available for writing. The slice
// is only valid until the next mutating call on b.
func (b *Buffer) WriteSlice() []byte {
	return b.data[b.write:]
}

// AdvanceRead moves the read cursor forward by n bytes. It panics if n
// would push the read cursor past the write cursor — a programmer error,
// not a runtime condition callers are expected to recover from. When the
// read cursor catches the write cursor, the buffer compacts both to zero.
func (b *Buffer) AdvanceRead(n int) {
	if n < 0 || b.read+n > b.write {
		panic("buffer: AdvanceRead out of range")
	}
	b.read += n
	if b.read == b.write {
		b.read = 0
		b.write = 0
	}
}

// AdvanceWrite moves the write cursor forward by n bytes. It panics if n
// would push the write cursor past capacity.
func (b *Buffer) AdvanceWrite(n int) {
	if n < 0 || b.write+n > len(b.data) {
		panic("buffer: AdvanceWrite out of range")
	}
	b.write += n
}

// Write copies as many bytes of src as fit into the free space and advances
// the write cursor accordingly; it never blocks and silently truncates when
// free space is insufficient — callers must query Free first if that
// matters to them.
func (b *Buffer) Write(src []byte) int {
	n := copy(b.WriteSlice(), src)
	b.AdvanceWrite(n)
	return n
}

// WriteByte writes a single byte if there is free space, reporting whether
// it succeeded.
func (b *Buffer) WriteByte(c byte) bool {
	if !b.CanWrite() {
		return false
	}
	b.data[b.write] = c
	b.write++
	return true
}

// Read copies as many unread bytes as fit into dest and advances the read
// cursor accordingly.
func (b *Buffer) Read(dest []byte) int {
	n := copy(dest, b.ReadSlice())
	b.AdvanceRead(n)
	return n
}

// ReadByte consumes and returns a single byte, reporting whether one was
// available.
func (b *Buffer) ReadByte() (byte, bool) {
	if !b.CanRead() {
		return 0, false
	}
	c := b.data[b.read]
	b.AdvanceRead(1)
	return c, true
}
