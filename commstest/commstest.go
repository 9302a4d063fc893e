// Package commstest provides deterministic in-process implementations of the
// comms transport interfaces: a recording collective engine with injectable
// failures and asynchronous faults, a host-backed device runtime with
// scriptable stream poll counts, and a loopback fabric whose workers match
// tagged sends to receives during Progress. The package exists so the
// communicator's polling engine can be exercised without a GPU or a real
// message transport.
package commstest
