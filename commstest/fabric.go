package commstest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gpucomm/comms-go/comms"
)

// Fabric is a loopback message transport connecting every rank in one
// process. Sends and receives posted through a rank's Worker stay queued
// until any worker's Progress call matches them by destination and wire tag,
// at which point payload bytes are copied between the posted buffers.
type Fabric struct {
	mu      sync.Mutex
	size    int
	workers []*Worker
	sends   []*pendingOp
	recvs   []*pendingOp

	// InlineSendLimit makes sends of at most this many bytes complete at
	// post time (NeedsRelease reports false); the payload is staged inside
	// the fabric. Zero disables inline completion.
	InlineSendLimit int
}

// NewFabric creates a fabric with one worker per rank.
func NewFabric(size int) *Fabric {
	f := &Fabric{size: size}
	for rank := 0; rank < size; rank++ {
		f.workers = append(f.workers, &Worker{fabric: f, rank: rank})
	}
	return f
}

// Worker returns the message transport worker for the given rank.
func (f *Fabric) Worker(rank int) *Worker {
	return f.workers[rank]
}

// Endpoints returns the endpoint slice rank `from` hands to the communicator:
// one connected endpoint per peer, nil in the own-rank slot.
func (f *Fabric) Endpoints(from int) []comms.Endpoint {
	eps := make([]comms.Endpoint, f.size)
	for peer := 0; peer < f.size; peer++ {
		if peer == from {
			continue
		}
		eps[peer] = &Endpoint{fabric: f, peer: peer}
	}
	return eps
}

// Endpoint identifies the connection to one peer rank.
type Endpoint struct {
	fabric *Fabric
	peer   int
}

// Peer returns the rank behind the endpoint.
func (e *Endpoint) Peer() int {
	return e.peer
}

type pendingOp struct {
	owner  int // issuing rank
	target int // destination rank (sends) or expected source's owner (recvs)
	tag    uint64
	mask   uint64
	buf    comms.Buffer
	size   int
	staged []byte // inline sends carry their payload here
	req    *Request
}

// Request is the fabric's transport-native request record.
type Request struct {
	completed    atomic.Bool
	needsRelease bool
	freed        atomic.Bool
}

var _ comms.Request = (*Request)(nil)

func (r *Request) NeedsRelease() bool {
	return r.needsRelease
}

func (r *Request) Completed() bool {
	return r.completed.Load()
}

func (r *Request) Free() {
	r.freed.Store(true)
}

// Freed reports whether the engine released the record.
func (r *Request) Freed() bool {
	return r.freed.Load()
}

// Worker drives one rank's side of the fabric.
type Worker struct {
	fabric *Fabric
	rank   int

	// SendErr / RecvErr, when set, fail the next post.
	SendErr error
	RecvErr error

	// Stalled suppresses matching from this worker's Progress calls,
	// simulating a transport that cannot move.
	Stalled bool
}

var _ comms.Worker = (*Worker)(nil)

// Isend queues a tagged send toward the endpoint's peer. Sends within the
// fabric's inline limit are completed immediately with the payload staged.
func (w *Worker) Isend(ep comms.Endpoint, buf comms.Buffer, size int, tag uint64) (comms.Request, error) {
	if w.SendErr != nil {
		err := w.SendErr
		w.SendErr = nil
		return nil, err
	}
	e, ok := ep.(*Endpoint)
	if !ok || e == nil {
		return nil, errors.New("commstest: endpoint does not belong to this fabric")
	}
	if e.fabric != w.fabric {
		return nil, errors.New("commstest: endpoint belongs to another fabric")
	}
	if size < 0 {
		return nil, fmt.Errorf("commstest: negative send size %d", size)
	}

	f := w.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	op := &pendingOp{owner: w.rank, target: e.peer, tag: tag, mask: ^uint64(0), buf: buf, size: size}
	if f.InlineSendLimit > 0 && size <= f.InlineSendLimit {
		op.staged = append([]byte(nil), buf.Bytes(size)...)
		op.req = &Request{needsRelease: false}
		op.req.completed.Store(true)
	} else {
		op.req = &Request{needsRelease: true}
	}
	f.sends = append(f.sends, op)
	return op.req, nil
}

// Irecv queues a tagged receive matching tag under mask.
func (w *Worker) Irecv(ep comms.Endpoint, buf comms.Buffer, size int, tag, mask uint64) (comms.Request, error) {
	if w.RecvErr != nil {
		err := w.RecvErr
		w.RecvErr = nil
		return nil, err
	}
	e, ok := ep.(*Endpoint)
	if !ok || e == nil {
		return nil, errors.New("commstest: endpoint does not belong to this fabric")
	}
	if e.fabric != w.fabric {
		return nil, errors.New("commstest: endpoint belongs to another fabric")
	}
	if size < 0 {
		return nil, fmt.Errorf("commstest: negative receive size %d", size)
	}

	f := w.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	op := &pendingOp{owner: w.rank, tag: tag, mask: mask, buf: buf, size: size, req: &Request{needsRelease: true}}
	f.recvs = append(f.recvs, op)
	return op.req, nil
}

// Progress matches queued sends to queued receives and returns the number of
// deliveries performed. Any rank's worker drives the whole fabric, mirroring
// a shared progress engine.
func (w *Worker) Progress() int {
	if w.Stalled {
		return 0
	}

	f := w.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	matched := 0
	remainingSends := f.sends[:0]
	for _, send := range f.sends {
		recv := f.takeMatchingRecv(send)
		if recv == nil {
			remainingSends = append(remainingSends, send)
			continue
		}
		deliver(send, recv)
		matched++
	}
	f.sends = remainingSends
	return matched
}

// takeMatchingRecv removes and returns the first queued receive the send can
// satisfy: posted by the destination rank, tag equal under the receive mask.
func (f *Fabric) takeMatchingRecv(send *pendingOp) *pendingOp {
	for i, recv := range f.recvs {
		if recv.owner != send.target {
			continue
		}
		if send.tag&recv.mask != recv.tag&recv.mask {
			continue
		}
		f.recvs = append(f.recvs[:i], f.recvs[i+1:]...)
		return recv
	}
	return nil
}

func deliver(send, recv *pendingOp) {
	n := send.size
	if recv.size < n {
		n = recv.size
	}
	if n > 0 {
		src := send.staged
		if src == nil {
			src = send.buf.Bytes(send.size)
		}
		copy(recv.buf.Bytes(n), src[:n])
	}
	send.req.completed.Store(true)
	recv.req.completed.Store(true)
}

// OutstandingSends reports queued, unmatched sends.
func (f *Fabric) OutstandingSends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// OutstandingRecvs reports queued, unmatched receives.
func (f *Fabric) OutstandingRecvs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recvs)
}
