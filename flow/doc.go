// Package flow implements admission control for the advanced ok protocol of
// motion-controller firmware.
//
// The firmware acknowledges each accepted command with an ok line that
// reports the free slots left in its planner and command buffers. The stock
// host protocol releases one queued command per ok, which leaves most of the
// firmware's buffers unused and starves the planner during fast moves. A
// Controller watches every ok and decides whether the host may send one more
// command ahead of the default pace, without ever overrunning the command
// buffer.
//
// Processing an acknowledgment:
//
//  1. The line is parsed with ack.Parse. Lines that are not advanced ok
//     lines, or that carry no line number, are ignored.
//  2. The first ok of a connection acknowledges the reset command (line 0).
//     Its telemetry is used once to discover the true buffer capacities; the
//     firmware reports one slot less than it has, so both counts are
//     incremented (see BufferProfile).
//  3. The inflight window, commands sent but not yet acknowledged, is derived
//     from the host's line counter, the acknowledged line, and tokens granted
//     but not yet consumed (see ComputeInflight).
//  4. While the host reports a resend, the ResendGuard takes over: no token
//     is granted, and acks are withheld from the host while inflight stays
//     above half of the target so the window drains faster.
//  5. Otherwise a token is granted when the command buffer has at least two
//     free slots, inflight is below target and the minimum token interval has
//     elapsed.
//
// The Controller is connection scoped and NOT goroutine-safe for
// HandleLine/HandleEvent: the host calls it from its single receive loop.
// Settings may be swapped from any goroutine with ApplySettings, and the
// Statistics counters may be read concurrently, e.g. by a Prometheus collector.
package flow
