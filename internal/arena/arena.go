// Package arena provides a contiguous byte buffer and zero-copy views into
// it, used by the directory lister to pack entries without a per-entry
// allocation.
package arena

// Arena is a growable byte buffer. Views returned by Append alias its
// backing array and are only valid until the Arena is reset or discarded.
type Arena struct {
	buf []byte
}

// New returns an Arena with the given initial capacity.
func New(capacity int) *Arena {
	return &Arena{buf: make([]byte, 0, capacity)}
}

// View is a zero-copy reference into an Arena's backing array.
type View struct {
	off, len int
}

// Append copies b into the arena and returns a View over the copy.
func (a *Arena) Append(b []byte) View {
	off := len(a.buf)
	a.buf = append(a.buf, b...)
	return View{off: off, len: len(b)}
}

// AppendByte appends a single byte and returns its offset as a one-byte View.
func (a *Arena) AppendByte(b byte) View {
	off := len(a.buf)
	a.buf = append(a.buf, b)
	return View{off: off, len: 1}
}

// Bytes resolves a View into the bytes it refers to. The result aliases the
// Arena's backing array and must not be retained past the Arena's lifetime.
func (a *Arena) Bytes(v View) []byte {
	return a.buf[v.off : v.off+v.len]
}

// String resolves a View into a string. This allocates a copy, since Go
// strings are immutable and cannot alias a mutable backing array safely
// across arena reuse.
func (a *Arena) String(v View) string {
	return string(a.Bytes(v))
}

// Len returns the number of bytes currently stored.
func (a *Arena) Len() int {
	return len(a.buf)
}

// Reset discards all views and reuses the backing array.
func (a *Arena) Reset() {
	a.buf = a.buf[:0]
}
