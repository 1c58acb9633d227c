package flow

// ComputeInflight returns the number of commands sent but not acknowledged:
//
//	latestSent - acked + pending
//
// pending counts tokens already granted but not yet consumed by the host's
// send loop; the command they release is as good as sent.
//
// A negative window means the host's line counter and the acks disagree
// (line number regression, missed acks). The result is clamped to 0 and
// clamped is true.
func ComputeInflight(latestSent, acked uint64, pending int) (inflight uint32, clamped bool) {
	n := int64(latestSent) - int64(acked) + int64(max(pending, 0))
	if n < 0 {
		return 0, true
	}
	if n > int64(^uint32(0)) {
		return ^uint32(0), false
	}

	return uint32(n), false
}
