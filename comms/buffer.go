package comms

import "unsafe"

// Buffer is an opaque handle to transport-visible memory, typically a device
// allocation owned by the caller or by the communicator (scratch buffers).
// All byte offsetting happens through Offset; no other component performs
// pointer arithmetic.
type Buffer struct {
	ptr unsafe.Pointer
}

// NewBuffer wraps a raw pointer handed over by external bootstrap code or a
// Device implementation.
func NewBuffer(p unsafe.Pointer) Buffer {
	return Buffer{ptr: p}
}

// BufferOf wraps the backing array of a byte slice. Intended for host-backed
// transports and tests; the slice must stay reachable while the buffer is in
// use.
func BufferOf(b []byte) Buffer {
	if len(b) == 0 {
		return Buffer{}
	}
	return Buffer{ptr: unsafe.Pointer(&b[0])}
}

// IsNil reports whether the buffer carries no memory.
func (b Buffer) IsNil() bool {
	return b.ptr == nil
}

// Pointer exposes the underlying opaque pointer for transport implementations.
func (b Buffer) Pointer() unsafe.Pointer {
	return b.ptr
}

// Offset returns a buffer advanced by the given number of bytes.
func (b Buffer) Offset(bytes int) Buffer {
	if b.ptr == nil {
		return b
	}
	return Buffer{ptr: unsafe.Add(b.ptr, bytes)}
}

// Bytes views n bytes of the buffer as a slice. Only meaningful for
// host-backed memory; device-backed transports must not call it.
func (b Buffer) Bytes(n int) []byte {
	if b.ptr == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), n)
}
