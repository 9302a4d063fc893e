package communicator

import (
	"fmt"
	"math"
	"runtime"

	"github.com/gpucomm/comms-go/comms"
)

// matchFull requires an exact wire-tag match on the receive side.
const matchFull = ^uint64(0)

// wireTag composes the transport tag from the user tag and the issuing rank,
// so a receiver can disambiguate identical user tags from different peers.
func wireTag(tag, rank int) uint64 {
	return uint64(tag)<<32 | uint64(uint32(rank))
}

func validTag(tag int) error {
	if tag < 0 || tag > math.MaxUint32 {
		return fmt.Errorf("communicator: tag %d outside [0, 2^32)", tag)
	}
	return nil
}

// Isend posts a non-blocking tagged send of size bytes to dest and returns
// the identifier tracking it. The call never blocks; join the request with
// WaitAll. Requires point-to-point capability.
func (c *Communicator) Isend(buf comms.Buffer, size, dest, tag int) (RequestID, error) {
	ep, err := c.ensurePointToPoint(dest)
	if err != nil {
		return 0, err
	}
	if err := validTag(tag); err != nil {
		return 0, err
	}

	id := c.registry.allocate()
	native, err := c.worker.Isend(ep, buf, size, wireTag(tag, c.rank))
	if err != nil {
		c.registry.recycle(id)
		return 0, fmt.Errorf("post send to rank %d: %w", dest, err)
	}
	if err := c.registry.register(&trackedRequest{id: id, native: native, peer: dest, kind: OperationSend}); err != nil {
		return 0, err
	}

	c.stats.sendsPosted.Add(1)
	c.metricRequestPosted(OperationSend.String())
	c.logEvent("send_posted",
		logKV("request", uint64(id)),
		logKV("peer", dest),
		logKV("tag", tag),
		logKV("bytes", size),
	)
	return id, nil
}

// Irecv posts a non-blocking tagged receive of size bytes matching (tag,
// source) and returns the identifier tracking it. The call never blocks.
// Requires point-to-point capability.
func (c *Communicator) Irecv(buf comms.Buffer, size, source, tag int) (RequestID, error) {
	ep, err := c.ensurePointToPoint(source)
	if err != nil {
		return 0, err
	}
	if err := validTag(tag); err != nil {
		return 0, err
	}

	id := c.registry.allocate()
	native, err := c.worker.Irecv(ep, buf, size, wireTag(tag, source), matchFull)
	if err != nil {
		c.registry.recycle(id)
		return 0, fmt.Errorf("post receive from rank %d: %w", source, err)
	}
	if err := c.registry.register(&trackedRequest{id: id, native: native, peer: source, kind: OperationReceive}); err != nil {
		return 0, err
	}

	c.stats.recvsPosted.Add(1)
	c.metricRequestPosted(OperationReceive.String())
	c.logEvent("receive_posted",
		logKV("request", uint64(id)),
		logKV("peer", source),
		logKV("tag", tag),
		logKV("bytes", size),
	)
	return id, nil
}

// WaitAll blocks until every named request completes, cooperatively driving
// the message transport's progress engine from the calling goroutine. The
// named identifiers leave the in-flight table before polling begins, so
// their slots cannot collide with requests issued while the wait is
// outstanding; each identifier becomes reusable only once its operation is
// observed complete.
//
// If no request completes and the transport reports no progress for the
// stall threshold (10s unless configured), WaitAll fails with ErrWaitTimeout.
// The timed-out requests are abandoned: their identifiers are never reused
// and their transport records are intentionally leaked rather than freed
// while the transport may still touch them.
func (c *Communicator) WaitAll(ids []RequestID) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if !c.p2pEnabled || c.worker == nil {
		return ErrPointToPointDisabled
	}

	pending := make([]*trackedRequest, 0, len(ids))
	for _, id := range ids {
		req, err := c.registry.release(id)
		if err != nil {
			return err
		}
		pending = append(pending, req)
	}

	span := c.startSpan("communicator-waitall", TraceAttribute{Key: "requests", Value: len(pending)})
	c.logEvent("waitall_start", logKV("requests", len(pending)))

	start := c.now()
	for len(pending) > 0 {
		progressed := false
		for c.worker.Progress() != 0 {
			progressed = true
		}

		remaining := pending[:0]
		for _, req := range pending {
			if req.native.NeedsRelease() && !req.native.Completed() {
				remaining = append(remaining, req)
				continue
			}
			immediate := !req.native.NeedsRelease()
			req.native.Free()
			c.registry.recycle(req.id)
			progressed = true

			c.stats.requestsCompleted.Add(1)
			c.metricRequestCompleted(req.kind.String())
			fields := []logField{
				logKV("request", uint64(req.id)),
				logKV("kind", req.kind),
				logKV("peer", req.peer),
				logKV("completed_immediately", immediate),
				logKV("outstanding", len(remaining)),
			}
			c.logEvent("request_completed", fields...)
			spanAddEvent(span, "request_completed", fields...)
		}
		pending = remaining

		if progressed {
			start = c.now()
			continue
		}
		if c.now().Sub(start) >= c.waitTimeout {
			err := fmt.Errorf("%w: no progress for %s, %d requests outstanding", ErrWaitTimeout, c.waitTimeout, len(pending))
			c.stats.waitTimeouts.Add(1)
			c.metricWaitTimedOut()
			c.logEvent("waitall_timeout", logKV("outstanding", len(pending)), logKV("error", err))
			spanRecordError(span, err)
			spanEnd(span, err)
			return err
		}
		// Single-threaded cooperative scheduler: let transport threads run.
		runtime.Gosched()
	}

	c.logEvent("waitall_complete", logKV("requests", len(ids)))
	spanEnd(span, nil)
	return nil
}
