package communicator

import (
	"errors"
	"fmt"

	"github.com/gpucomm/comms-go/comms"
)

// Handle is a caller-owned slot a communicator is installed into by the
// injection helpers, mirroring how external bootstrap code hands a ready
// communicator to the algorithms that consume it.
type Handle struct {
	comm *Communicator
}

// SetCommunicator installs a communicator into the handle.
func (h *Handle) SetCommunicator(c *Communicator) {
	h.comm = c
}

// Communicator returns the installed communicator.
func (h *Handle) Communicator() (*Communicator, error) {
	if h == nil || h.comm == nil {
		return nil, errors.New("communicator: no communicator installed on handle")
	}
	return h.comm, nil
}

// Inject wraps a ready collective engine into a collective-only communicator
// and installs it into the handle. The transports are bootstrapped and owned
// by the caller.
func Inject(h *Handle, coll comms.Collective, device comms.Device, size, rank int) error {
	return inject(h, Config{
		Collective: coll,
		Device:     device,
		Size:       size,
		Rank:       rank,
	})
}

// InjectP2P wraps ready collective and message transports into a communicator
// with point-to-point capability. endpoints holds one connected endpoint per
// rank; the own-rank slot may be nil.
func InjectP2P(h *Handle, coll comms.Collective, device comms.Device, worker comms.Worker, endpoints []comms.Endpoint, size, rank int) error {
	if worker == nil {
		return errors.New("communicator: inject with point-to-point requires a worker")
	}
	if len(endpoints) != size {
		return fmt.Errorf("communicator: inject needs one endpoint slot per rank (have %d want %d)", len(endpoints), size)
	}
	return inject(h, Config{
		Collective: coll,
		Device:     device,
		Worker:     worker,
		Endpoints:  endpoints,
		Size:       size,
		Rank:       rank,
	})
}

func inject(h *Handle, cfg Config) error {
	if h == nil {
		return errors.New("communicator: nil handle")
	}
	c, err := New(cfg)
	if err != nil {
		return err
	}
	h.SetCommunicator(c)
	return nil
}
