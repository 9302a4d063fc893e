package commstest

import (
	"errors"
	"sync"

	"github.com/gpucomm/comms-go/comms"
)

// CollectiveCall records one forwarded collective operation.
type CollectiveCall struct {
	Op     string
	Send   comms.Buffer
	Recv   comms.Buffer
	Count  int
	Dtype  comms.Datatype
	Reduce comms.ReduceOp
	Root   int
	Stream comms.Stream
}

// Collective is a recording comms.Collective. The zero value accepts every
// call; FailOn makes the named operation return an error, and SetAsyncFault
// arms the asynchronous error query.
type Collective struct {
	mu    sync.Mutex
	calls []CollectiveCall

	// FailOn names an operation ("allreduce", "broadcast", ...) whose calls
	// fail with Err.
	FailOn string
	// Err is the error returned for FailOn operations.
	Err error

	fault    error
	queryErr error
	abortErr error
	aborted  bool
}

var _ comms.Collective = (*Collective)(nil)

// errCollective is returned for FailOn operations when Err is unset.
var errCollective = errors.New("commstest: collective failure injected")

// Calls returns a snapshot of the recorded operations in issue order.
func (c *Collective) Calls() []CollectiveCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CollectiveCall(nil), c.calls...)
}

// SetAsyncFault arms the asynchronous fault reported by AsyncError.
func (c *Collective) SetAsyncFault(err error) {
	c.mu.Lock()
	c.fault = err
	c.mu.Unlock()
}

// SetAsyncErrorQueryFailure makes AsyncError itself fail.
func (c *Collective) SetAsyncErrorQueryFailure(err error) {
	c.mu.Lock()
	c.queryErr = err
	c.mu.Unlock()
}

// SetAbortError makes Abort fail.
func (c *Collective) SetAbortError(err error) {
	c.mu.Lock()
	c.abortErr = err
	c.mu.Unlock()
}

// Aborted reports whether Abort was invoked.
func (c *Collective) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

func (c *Collective) record(call CollectiveCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailOn != "" && c.FailOn == call.Op {
		if c.Err != nil {
			return c.Err
		}
		return errCollective
	}
	c.calls = append(c.calls, call)
	return nil
}

func (c *Collective) AllReduce(send, recv comms.Buffer, count int, dtype comms.Datatype, op comms.ReduceOp, stream comms.Stream) error {
	return c.record(CollectiveCall{Op: "allreduce", Send: send, Recv: recv, Count: count, Dtype: dtype, Reduce: op, Stream: stream})
}

func (c *Collective) Broadcast(send, recv comms.Buffer, count int, dtype comms.Datatype, root int, stream comms.Stream) error {
	return c.record(CollectiveCall{Op: "broadcast", Send: send, Recv: recv, Count: count, Dtype: dtype, Root: root, Stream: stream})
}

func (c *Collective) Reduce(send, recv comms.Buffer, count int, dtype comms.Datatype, op comms.ReduceOp, root int, stream comms.Stream) error {
	return c.record(CollectiveCall{Op: "reduce", Send: send, Recv: recv, Count: count, Dtype: dtype, Reduce: op, Root: root, Stream: stream})
}

func (c *Collective) AllGather(send, recv comms.Buffer, count int, dtype comms.Datatype, stream comms.Stream) error {
	return c.record(CollectiveCall{Op: "allgather", Send: send, Recv: recv, Count: count, Dtype: dtype, Stream: stream})
}

func (c *Collective) ReduceScatter(send, recv comms.Buffer, count int, dtype comms.Datatype, op comms.ReduceOp, stream comms.Stream) error {
	return c.record(CollectiveCall{Op: "reducescatter", Send: send, Recv: recv, Count: count, Dtype: dtype, Reduce: op, Stream: stream})
}

func (c *Collective) AsyncError() (error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.fault, nil
}

func (c *Collective) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
	if c.abortErr != nil {
		return c.abortErr
	}
	c.fault = nil
	return nil
}
