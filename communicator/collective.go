package communicator

import (
	"fmt"

	"github.com/gpucomm/comms-go/comms"
)

// Collective calls enqueue work on the given execution stream and return once
// it is enqueued; ordering between collectives is the issuing order on that
// stream. A transport error is fatal to the calling operation and is never
// retried; the collective engine cannot recover from partial failure mid-call.

func (c *Communicator) collective(op string, call func() error) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if err := call(); err != nil {
		c.stats.collectivesFailed.Add(1)
		c.metricCollectiveFailed(op, err)
		c.logEvent("collective_failed", logKV(labelOperation, op), logKV("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	c.stats.collectivesCompleted.Add(1)
	c.metricCollectiveCompleted(op)
	return nil
}

// AllReduce reduces count elements from send across all ranks into recv on
// every rank.
func (c *Communicator) AllReduce(send, recv comms.Buffer, count int, dtype comms.Datatype, op comms.ReduceOp, stream comms.Stream) error {
	return c.collective("allreduce", func() error {
		return c.coll.AllReduce(send, recv, count, dtype, op, stream)
	})
}

// Broadcast distributes count elements from root to all ranks, in place on
// buf.
func (c *Communicator) Broadcast(buf comms.Buffer, count int, dtype comms.Datatype, root int, stream comms.Stream) error {
	return c.collective("broadcast", func() error {
		return c.coll.Broadcast(buf, buf, count, dtype, root, stream)
	})
}

// Reduce reduces count elements from send across all ranks into recv on root.
func (c *Communicator) Reduce(send, recv comms.Buffer, count int, dtype comms.Datatype, op comms.ReduceOp, root int, stream comms.Stream) error {
	return c.collective("reduce", func() error {
		return c.coll.Reduce(send, recv, count, dtype, op, root, stream)
	})
}

// AllGather gathers sendcount elements from every rank into recv on every
// rank; recv holds sendcount*Size() elements ordered by rank.
func (c *Communicator) AllGather(send, recv comms.Buffer, sendcount int, dtype comms.Datatype, stream comms.Stream) error {
	return c.collective("allgather", func() error {
		return c.coll.AllGather(send, recv, sendcount, dtype, stream)
	})
}

// AllGatherv gathers a variable-sized contribution from every rank:
// recvcounts[r] elements from rank r land in recv at element offset
// displs[r]. The transport has no native variable gather, so the operation
// decomposes into Size() sequential broadcasts, root = 0..Size()-1, each
// costing one collective call.
//
// Every rank must issue its collectives in identical order; nothing beyond
// stream ordering enforces the per-root sequence across ranks.
func (c *Communicator) AllGatherv(send, recv comms.Buffer, recvcounts, displs []int, dtype comms.Datatype, stream comms.Stream) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if len(recvcounts) != c.size || len(displs) != c.size {
		return fmt.Errorf("communicator: allgatherv needs one count and displacement per rank (have %d/%d want %d)", len(recvcounts), len(displs), c.size)
	}
	elem := dtype.Size()
	for root := 0; root < c.size; root++ {
		dst := recv.Offset(displs[root] * elem)
		count := recvcounts[root]
		err := c.collective("allgatherv", func() error {
			return c.coll.Broadcast(send, dst, count, dtype, root, stream)
		})
		if err != nil {
			return fmt.Errorf("broadcast from root %d: %w", root, err)
		}
	}
	return nil
}

// ReduceScatter reduces across all ranks and scatters the result, recvcount
// elements per rank, into recv.
func (c *Communicator) ReduceScatter(send, recv comms.Buffer, recvcount int, dtype comms.Datatype, op comms.ReduceOp, stream comms.Stream) error {
	return c.collective("reducescatter", func() error {
		return c.coll.ReduceScatter(send, recv, recvcount, dtype, op, stream)
	})
}

// Barrier blocks until every rank has arrived. The transport has no native
// barrier; it is synthesized from a one-element sum allreduce over the
// communicator's scratch buffers followed by a full stream drain. A failed
// barrier implies at least one rank may be unreachable and is fatal.
func (c *Communicator) Barrier() error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	span := c.startSpan("communicator-barrier")

	if err := c.device.MemsetAsync(c.sendbuf, 1, scratchBytes, c.stream); err != nil {
		err = fmt.Errorf("barrier memset send scratch: %w", err)
		spanRecordError(span, err)
		spanEnd(span, err)
		return err
	}
	if err := c.device.MemsetAsync(c.recvbuf, 1, scratchBytes, c.stream); err != nil {
		err = fmt.Errorf("barrier memset recv scratch: %w", err)
		spanRecordError(span, err)
		spanEnd(span, err)
		return err
	}
	if err := c.AllReduce(c.sendbuf, c.recvbuf, 1, comms.Int32, comms.Sum, c.stream); err != nil {
		err = fmt.Errorf("barrier allreduce: %w", err)
		spanRecordError(span, err)
		spanEnd(span, err)
		return err
	}

	if status := c.SyncStream(c.stream); status != StatusSuccess {
		err := fmt.Errorf("%w: stream drain returned %s; a rank may have failed", ErrBarrierFailed, status)
		spanRecordError(span, err)
		spanEnd(span, err)
		return err
	}

	c.logEvent("barrier_complete")
	spanAddEvent(span, "barrier_complete")
	spanEnd(span, nil)
	return nil
}
