package communicator

import "errors"

var (
	// ErrClosed indicates the communicator has already been torn down.
	ErrClosed = errors.New("communicator: closed")
	// ErrNotSupported indicates an operation the underlying collective
	// transport cannot perform, such as dynamic sub-group creation.
	ErrNotSupported = errors.New("communicator: operation not supported")
	// ErrPointToPointDisabled indicates a point-to-point call on a
	// communicator constructed without a message transport.
	ErrPointToPointDisabled = errors.New("communicator: not initialized for point-to-point")
	// ErrInvalidRequest indicates a request identifier that is not currently
	// in flight.
	ErrInvalidRequest = errors.New("communicator: invalid request identifier")
	// ErrWaitTimeout indicates that WaitAll made no progress within the
	// liveness threshold.
	ErrWaitTimeout = errors.New("communicator: timed out waiting for requests")
	// ErrBarrierFailed indicates the barrier stream drain did not succeed; at
	// least one rank may be unreachable.
	ErrBarrierFailed = errors.New("communicator: barrier failed")
)
