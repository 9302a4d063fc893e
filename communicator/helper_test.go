package communicator

import (
	"testing"
	"time"

	"github.com/gpucomm/comms-go/commstest"
)

// testCluster wires size communicators over one loopback fabric, sharing a
// recording collective engine and a host-backed device runtime.
type testCluster struct {
	fabric *commstest.Fabric
	coll   *commstest.Collective
	device *commstest.Device
	comms  []*Communicator
}

func newTestCluster(t *testing.T, size int, opts ...func(*Config)) *testCluster {
	t.Helper()
	tc := &testCluster{
		fabric: commstest.NewFabric(size),
		coll:   &commstest.Collective{},
		device: commstest.NewDevice(),
	}
	for rank := 0; rank < size; rank++ {
		cfg := Config{
			Collective: tc.coll,
			Device:     tc.device,
			Worker:     tc.fabric.Worker(rank),
			Endpoints:  tc.fabric.Endpoints(rank),
			Size:       size,
			Rank:       rank,
		}
		for _, opt := range opts {
			opt(&cfg)
		}
		c, err := New(cfg)
		if err != nil {
			t.Fatalf("New(rank=%d): %v", rank, err)
		}
		t.Cleanup(func() { _ = c.Close() })
		tc.comms = append(tc.comms, c)
	}
	return tc
}

// newCollectiveOnly builds a communicator without point-to-point capability.
func newCollectiveOnly(t *testing.T, size, rank int, opts ...func(*Config)) (*Communicator, *commstest.Collective, *commstest.Device) {
	t.Helper()
	coll := &commstest.Collective{}
	device := commstest.NewDevice()
	cfg := Config{Collective: coll, Device: device, Size: size, Rank: rank}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, coll, device
}

// fakeClock returns a clock that advances by step on every reading, letting
// the WaitAll stall timer run against simulated time.
func fakeClock(step time.Duration) func() time.Time {
	current := time.Unix(0, 0)
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}

// ownStream returns the communicator's stream as the scriptable test type.
func ownStream(t *testing.T, c *Communicator) *commstest.Stream {
	t.Helper()
	s, ok := c.Stream().(*commstest.Stream)
	if !ok {
		t.Fatalf("stream is %T, want *commstest.Stream", c.Stream())
	}
	return s
}
