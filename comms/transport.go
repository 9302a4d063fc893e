package comms

// Collective is the external collective engine. Implementations translate the
// portable datatype and operator enumerations to their native values and
// enqueue work on the supplied execution stream; calls return once the work is
// enqueued, not once it has executed. Any returned error is fatal to the
// calling operation.
type Collective interface {
	AllReduce(send, recv Buffer, count int, dtype Datatype, op ReduceOp, stream Stream) error
	Broadcast(send, recv Buffer, count int, dtype Datatype, root int, stream Stream) error
	Reduce(send, recv Buffer, count int, dtype Datatype, op ReduceOp, root int, stream Stream) error
	AllGather(send, recv Buffer, count int, dtype Datatype, stream Stream) error
	ReduceScatter(send, recv Buffer, count int, dtype Datatype, op ReduceOp, stream Stream) error

	// AsyncError reports a fault raised asynchronously by the engine since
	// the last call. fault is the asynchronous failure, if any; err reports
	// that the query itself could not be performed.
	AsyncError() (fault error, err error)

	// Abort forces the engine's communicator object down. After a successful
	// abort the engine is unusable and must be rebootstrapped.
	Abort() error
}

// Worker is the external message transport's progress engine. A worker owns
// the transport's internal queues; it advances only when Progress is called.
type Worker interface {
	// Progress drives the transport's event loop once and returns the number
	// of events processed. Zero means no forward motion was possible.
	Progress() int

	// Isend posts a non-blocking tagged send to the peer behind ep. The
	// returned request tracks completion; the call never blocks.
	Isend(ep Endpoint, buf Buffer, size int, tag uint64) (Request, error)

	// Irecv posts a non-blocking tagged receive matching tag under mask.
	Irecv(ep Endpoint, buf Buffer, size int, tag, mask uint64) (Request, error)
}

// Endpoint is an opaque transport-level handle representing the connection to
// one specific peer rank. Endpoints are bootstrapped externally.
type Endpoint interface{}

// Request is a transport-native in-flight operation record.
type Request interface {
	// NeedsRelease reports whether the transport completed the operation
	// inline at post time (false) or tracks it asynchronously (true).
	NeedsRelease() bool

	// Completed reports whether an asynchronously tracked operation has
	// finished. Meaningful only when NeedsRelease is true.
	Completed() bool

	// Free releases the transport-native record. Must be called exactly once
	// after the operation is observed complete.
	Free()
}

// Device is the external GPU runtime, reduced to what the communicator needs:
// one owned stream and two scratch allocations.
type Device interface {
	CreateStream() (Stream, error)
	DestroyStream(Stream) error
	Malloc(size int) (Buffer, error)
	Free(Buffer) error
	MemsetAsync(buf Buffer, value byte, size int, stream Stream) error
}

// Stream is an ordered queue of device operations.
type Stream interface {
	// Query reports whether all work enqueued on the stream has completed.
	// done=false with a nil error means the stream is still executing.
	Query() (done bool, err error)
}
