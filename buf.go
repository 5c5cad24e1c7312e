package fluxio

// Buf is an owned buffer of bytes moved through a [Body]. Whoever holds a
// Buf is responsible for freeing it, except inside a foreach callback,
// where the chunk is only borrowed for the duration of the call.
type Buf struct {
	data  []byte
	freed bool
}

// CopyBuf creates a Buf by copying p, so the argument may be reused or
// modified afterwards.
func CopyBuf(p []byte) *Buf {
	b := &Buf{data: make([]byte, len(p))}
	copy(b.data, p)
	return b
}

// Bytes returns the buffer's contents. The slice is owned by the Buf and
// is not valid after the Buf is freed.
func (b *Buf) Bytes() []byte { return b.data }

// Len returns the number of bytes in the buffer.
func (b *Buf) Len() int { return len(b.data) }

// Free releases the buffer. Freeing twice is a programming error.
func (b *Buf) Free() {
	markFreed(&b.freed, "Buf")
	b.data = nil
}
