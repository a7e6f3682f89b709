// Package relay wires chat events into the slot store and periodically ships
// the buffer to the remote endpoint.
//
// Two activities run concurrently:
//   - Consumer.Handle is called once per inbound chat line. It classifies the
//     line and upserts the payload. It never touches the network.
//   - Scheduler.Run waits one interval, runs a flush cycle, and repeats. A
//     cycle snapshots the store, skips empty snapshots, delivers the rest, and
//     on success removes the delivered entries. The next wait starts only when
//     the cycle finishes, so cycles never overlap.
//
// Delivery failures never leave a cycle: they are logged, counted, and the
// buffer is retried on the next tick.
package relay
