package communicator

import (
	"fmt"

	"github.com/gpucomm/comms-go/comms"
)

// RequestID is an opaque, process-local identifier naming one in-flight
// point-to-point operation. At any instant each live identifier maps to at
// most one operation.
type RequestID uint64

// OperationKind identifies the direction of a point-to-point operation.
type OperationKind int

const (
	OperationSend OperationKind = iota
	OperationReceive
)

func (k OperationKind) String() string {
	switch k {
	case OperationSend:
		return "send"
	case OperationReceive:
		return "receive"
	default:
		return "operation"
	}
}

// trackedRequest pairs a request identifier with the transport-native record
// it names while the operation is in flight.
type trackedRequest struct {
	id     RequestID
	native comms.Request
	peer   int
	kind   OperationKind
}

// requestRegistry issues, tracks, and recycles request identifiers.
// Identifiers come from the free pool when one is available, otherwise from a
// monotonic counter. An identifier returns to the free pool only once its
// operation has been observed complete; the free pool and the in-flight table
// stay disjoint at all times.
//
// The registry is not internally synchronized: the communicator's
// single-thread ownership rule covers it.
type requestRegistry struct {
	next     RequestID
	free     map[RequestID]struct{}
	inFlight map[RequestID]*trackedRequest
}

func newRequestRegistry() requestRegistry {
	return requestRegistry{
		free:     make(map[RequestID]struct{}),
		inFlight: make(map[RequestID]*trackedRequest),
	}
}

// allocate returns a free identifier if any, else the next counter value.
func (r *requestRegistry) allocate() RequestID {
	for id := range r.free {
		delete(r.free, id)
		return id
	}
	id := r.next
	r.next++
	return id
}

// register inserts a newly issued request into the in-flight table.
func (r *requestRegistry) register(req *trackedRequest) error {
	if _, ok := r.inFlight[req.id]; ok {
		return fmt.Errorf("%w: %d already in flight", ErrInvalidRequest, req.id)
	}
	r.inFlight[req.id] = req
	return nil
}

// release removes an identifier from the in-flight table and hands back its
// tracked record. The identifier is not yet reusable; recycle returns it to
// the free pool once the operation is observed complete.
func (r *requestRegistry) release(id RequestID) (*trackedRequest, error) {
	req, ok := r.inFlight[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRequest, id)
	}
	delete(r.inFlight, id)
	return req, nil
}

// recycle returns a released identifier to the free pool.
func (r *requestRegistry) recycle(id RequestID) {
	r.free[id] = struct{}{}
}

// inFlightCount reports the number of tracked operations.
func (r *requestRegistry) inFlightCount() int {
	return len(r.inFlight)
}
