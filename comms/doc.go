// Package comms defines the transport-neutral building blocks shared by the
// communicator: portable datatype and reduction-operator enumerations, the
// opaque device Buffer, and the narrow interfaces behind which the external
// collective and message transports live. The package holds no state of its
// own; concrete transports are bootstrapped elsewhere and injected.
package comms
