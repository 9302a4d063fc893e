//go:build integration

package integration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gpucomm/comms-go/comms"
	"github.com/gpucomm/comms-go/commstest"
	"github.com/gpucomm/comms-go/communicator"
)

const ringTag = 11

// buildCluster bootstraps one communicator per rank over a shared loopback
// fabric, the way external bootstrap code hands ready transports to the
// injection helpers.
func buildCluster(t *testing.T, size int) []*communicator.Communicator {
	t.Helper()
	fabric := commstest.NewFabric(size)
	coll := &commstest.Collective{}
	device := commstest.NewDevice()

	cluster := make([]*communicator.Communicator, size)
	for rank := 0; rank < size; rank++ {
		h := &communicator.Handle{}
		require.NoError(t, communicator.InjectP2P(h, coll, device, fabric.Worker(rank), fabric.Endpoints(rank), size, rank))
		c, err := h.Communicator()
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		cluster[rank] = c
	}
	return cluster
}

func TestRingExchangeEndToEnd(t *testing.T) {
	const size = 4
	cluster := buildCluster(t, size)

	// Every rank sends its greeting to the next rank and receives from the
	// previous one, all requests joined in a single WaitAll.
	errs := make(chan error, size)
	received := make([][]byte, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			comm := cluster[rank]
			next := (rank + 1) % size
			prev := (rank + size - 1) % size

			payload := []byte(fmt.Sprintf("greetings-from-%d", rank))
			inbox := make([]byte, len(payload))
			received[rank] = inbox

			rid, err := comm.Irecv(comms.BufferOf(inbox), len(inbox), prev, ringTag)
			if err != nil {
				errs <- fmt.Errorf("rank %d: post receive: %w", rank, err)
				return
			}
			sid, err := comm.Isend(comms.BufferOf(payload), len(payload), next, ringTag)
			if err != nil {
				errs <- fmt.Errorf("rank %d: post send: %w", rank, err)
				return
			}
			if err := comm.WaitAll([]communicator.RequestID{sid, rid}); err != nil {
				errs <- fmt.Errorf("rank %d: wait: %w", rank, err)
				return
			}
			errs <- nil
		}(rank)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("ring exchange did not complete")
	}
	for rank := 0; rank < size; rank++ {
		require.NoError(t, <-errs)
	}

	for rank := 0; rank < size; rank++ {
		prev := (rank + size - 1) % size
		require.Equal(t, fmt.Sprintf("greetings-from-%d", prev), string(received[rank]), "rank %d inbox", rank)
	}

	for rank := 0; rank < size; rank++ {
		stats := cluster[rank].Stats()
		require.Equal(t, uint64(1), stats.SendsPosted, "rank %d sends", rank)
		require.Equal(t, uint64(1), stats.ReceivesPosted, "rank %d receives", rank)
		require.Equal(t, uint64(2), stats.RequestsCompleted, "rank %d completions", rank)
		require.Zero(t, stats.WaitTimeouts, "rank %d timeouts", rank)
	}
}

func TestBarrierAndCollectivesEndToEnd(t *testing.T) {
	const size = 3
	cluster := buildCluster(t, size)

	var wg sync.WaitGroup
	errs := make(chan error, size)
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			comm := cluster[rank]
			if err := comm.Barrier(); err != nil {
				errs <- fmt.Errorf("rank %d: barrier: %w", rank, err)
				return
			}

			recv := make([]byte, 3*size*comms.Int32.Size())
			counts := []int{3, 3, 3}
			displs := []int{0, 3, 6}
			send := make([]byte, 3*comms.Int32.Size())
			if err := comm.AllGatherv(comms.BufferOf(send), comms.BufferOf(recv), counts, displs, comms.Int32, comm.Stream()); err != nil {
				errs <- fmt.Errorf("rank %d: allgatherv: %w", rank, err)
				return
			}
			errs <- nil
		}(rank)
	}
	wg.Wait()
	for rank := 0; rank < size; rank++ {
		require.NoError(t, <-errs)
	}

	for rank := 0; rank < size; rank++ {
		stats := cluster[rank].Stats()
		// One barrier allreduce plus one broadcast per root.
		require.Equal(t, uint64(1+size), stats.CollectivesCompleted, "rank %d collectives", rank)
		require.Zero(t, stats.CollectivesFailed, "rank %d failures", rank)
	}
}
