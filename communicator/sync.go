package communicator

import (
	"runtime"

	"github.com/gpucomm/comms-go/comms"
)

// Status is the outcome of a stream drain.
type Status int

const (
	// StatusSuccess means the stream completed all enqueued work.
	StatusSuccess Status = iota
	// StatusError means the stream query failed or the collective engine was
	// aborted after an asynchronous fault; the communicator should be torn
	// down.
	StatusError
	// StatusAbort means an asynchronous fault was detected and the abort
	// attempt itself failed: the engine is in an unrecoverable,
	// possibly-still-referenced state and must be rebuilt, not reused.
	StatusAbort
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// SyncStream blocks until the given execution stream drains, polling its
// completion status and yielding the CPU between polls. While the stream is
// pending, the collective engine's asynchronous error state is checked; a
// reported fault triggers one abort attempt on the engine.
func (c *Communicator) SyncStream(stream comms.Stream) Status {
	for {
		done, err := stream.Query()
		if done {
			return StatusSuccess
		}
		if err != nil {
			c.logEvent("stream_query_failed", logKV("error", err))
			return StatusError
		}

		fault, qerr := c.coll.AsyncError()
		if qerr != nil {
			c.logEvent("async_error_query_failed", logKV("error", qerr))
			return StatusError
		}
		if fault != nil {
			c.logEvent("async_fault", logKV("error", fault))
			if abortErr := c.coll.Abort(); abortErr != nil {
				c.logEvent("abort_failed", logKV("error", abortErr))
				return StatusAbort
			}
			c.metricStreamAborted()
			c.logEvent("aborted")
			return StatusError
		}

		// Let transport-internal threads use the CPU.
		runtime.Gosched()
	}
}
