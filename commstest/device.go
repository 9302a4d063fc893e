package commstest

import (
	"errors"
	"sync"

	"github.com/gpucomm/comms-go/comms"
)

// Stream is a host-backed comms.Stream whose completion is scripted:
// PendingPolls queries report not-done before the stream reports drained.
type Stream struct {
	mu sync.Mutex

	// PendingPolls is the number of Query calls that report a still-running
	// stream before completion.
	PendingPolls int
	// QueryErr, when set, is returned by every Query call.
	QueryErr error

	polls int
}

var _ comms.Stream = (*Stream)(nil)

func (s *Stream) Query() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.QueryErr != nil {
		return false, s.QueryErr
	}
	if s.PendingPolls > 0 {
		s.PendingPolls--
		return false, nil
	}
	return true, nil
}

// Polls reports how many times the stream was queried.
func (s *Stream) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// MemsetCall records one asynchronous memset.
type MemsetCall struct {
	Buf    comms.Buffer
	Value  byte
	Size   int
	Stream comms.Stream
}

// Device is a comms.Device backed by host memory. Allocations are pinned for
// the device's lifetime so Buffer pointers stay valid.
type Device struct {
	mu sync.Mutex

	// MallocErr, when set, fails the next Malloc.
	MallocErr error
	// StreamErr, when set, fails the next CreateStream.
	StreamErr error

	streams   []*Stream
	destroyed int
	allocs    int
	frees     int
	memsets   []MemsetCall
	pinned    [][]byte
}

var _ comms.Device = (*Device)(nil)

// NewDevice returns an empty host-backed device runtime.
func NewDevice() *Device {
	return &Device{}
}

func (d *Device) CreateStream() (comms.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StreamErr != nil {
		err := d.StreamErr
		d.StreamErr = nil
		return nil, err
	}
	s := &Stream{}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *Device) DestroyStream(s comms.Stream) error {
	if s == nil {
		return errors.New("commstest: destroy of nil stream")
	}
	d.mu.Lock()
	d.destroyed++
	d.mu.Unlock()
	return nil
}

func (d *Device) Malloc(size int) (comms.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.MallocErr != nil {
		err := d.MallocErr
		d.MallocErr = nil
		return comms.Buffer{}, err
	}
	b := make([]byte, size)
	d.pinned = append(d.pinned, b)
	d.allocs++
	return comms.BufferOf(b), nil
}

func (d *Device) Free(buf comms.Buffer) error {
	if buf.IsNil() {
		return errors.New("commstest: free of nil buffer")
	}
	d.mu.Lock()
	d.frees++
	d.mu.Unlock()
	return nil
}

func (d *Device) MemsetAsync(buf comms.Buffer, value byte, size int, stream comms.Stream) error {
	if buf.IsNil() {
		return errors.New("commstest: memset of nil buffer")
	}
	dst := buf.Bytes(size)
	for i := range dst {
		dst[i] = value
	}
	d.mu.Lock()
	d.memsets = append(d.memsets, MemsetCall{Buf: buf, Value: value, Size: size, Stream: stream})
	d.mu.Unlock()
	return nil
}

// Streams returns the streams created so far, in creation order.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// Memsets returns the recorded memset calls in issue order.
func (d *Device) Memsets() []MemsetCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]MemsetCall(nil), d.memsets...)
}

// Allocs reports Malloc calls; Frees and DestroyedStreams report teardown
// activity, letting tests assert the communicator releases what it owns.
func (d *Device) Allocs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocs
}

func (d *Device) Frees() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frees
}

func (d *Device) DestroyedStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}
