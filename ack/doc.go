// Package ack parses the acknowledgment and resend lines emitted by
// motion-controller firmware with advanced ok reporting enabled.
//
// An advanced ok line carries the line number of the acknowledged command and
// the free slots left in the firmware's planner and command buffers:
//
//	ok N1234 P15 B3
//
// The line number group is optional; lines without it are recognised but are
// not actionable for pacing (see Info.Actionable).
//
// The package also formats outbound commands with line numbers and the XOR
// checksum the firmware verifies, and recognises resend requests such as
// "Resend: 1234" and "rs N1234".
package ack
