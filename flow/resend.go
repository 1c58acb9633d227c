package flow

import "time"

const (
	// StreamingResendMargin is subtracted from the streaming inflight target
	// each time a resend episode starts during a transfer.
	StreamingResendMargin = 10

	// MinInflightTarget is the floor for targets reduced after resends, so
	// pacing never settles on a zero-grant steady state.
	MinInflightTarget = 2

	// ResendAckTimeout is the ack timeout requested from the host while a
	// resend episode drains stale inflight commands.
	ResendAckTimeout = 50 * time.Millisecond
)

// ResendTransition is the result of feeding the host's resend signal to a ResendGuard.
type ResendTransition uint8

const (
	// ResendUnchanged means the guard stayed in its current state.
	ResendUnchanged ResendTransition = iota
	// ResendStarted means a new episode was entered.
	ResendStarted
	// ResendEnded means the running episode finished.
	ResendEnded
)

// ResendGuard tracks resend episodes, the periods during which the firmware
// asked the host to retransmit from an earlier line.
//
// The state machine is Normal -> Resending -> Normal, driven by the level of
// the host's resend signal. Entry and exit are edge triggered, so an episode
// is counted once however many acks arrive while it lasts.
//
// Targets reduced by an episode outlive it: a streaming target stays reduced
// until Reset, and every throttled interactive episode takes one more slot
// off the interactive target.
type ResendGuard struct {
	active          bool
	throttleApplied bool

	streamingReduced bool
	streamingTarget  uint32

	interactiveMargin uint32
}

// Active returns if a resend episode is running.
func (g *ResendGuard) Active() bool { return g.active }

// ThrottleApplied returns if the running episode's back-off has been applied.
func (g *ResendGuard) ThrottleApplied() bool { return g.throttleApplied }

// NeedsThrottle returns if an episode is running whose back-off is not applied yet.
func (g *ResendGuard) NeedsThrottle() bool { return g.active && !g.throttleApplied }

// Observe feeds the current level of the host's resend signal.
func (g *ResendGuard) Observe(resendActive bool, session Session) ResendTransition {
	switch {
	case resendActive && !g.active:
		g.active = true
		g.throttleApplied = false

		return ResendStarted

	case !resendActive && g.active:
		// streaming keeps the reduced target, the severity of the desync is unknown
		if g.throttleApplied && !session.IsStreaming() {
			g.interactiveMargin++
		}
		g.active = false
		g.throttleApplied = false

		return ResendEnded

	default:
		return ResendUnchanged
	}
}

// Throttle applies the back-off of the running episode once. For streaming
// sessions prior, the ceiling in force before the episode, is reduced by
// StreamingResendMargin. It returns false when there is nothing to apply.
func (g *ResendGuard) Throttle(session Session, prior uint32) bool {
	if !g.NeedsThrottle() {
		return false
	}
	g.throttleApplied = true

	if session.IsStreaming() {
		g.streamingTarget = reduceTarget(prior, StreamingResendMargin)
		g.streamingReduced = true
	}

	return true
}

// Target returns base corrected by past episodes for the given session.
func (g *ResendGuard) Target(session Session, base uint32) uint32 {
	if base == 0 {
		return 0
	}

	if session.IsStreaming() {
		if g.streamingReduced {
			return min(g.streamingTarget, base)
		}
		return base
	}

	return reduceTarget(base, g.interactiveMargin)
}

// ShouldWithhold returns if the current ack should be kept from the host to
// drain inflight commands: an episode is running and inflight is above half
// of target.
func (g *ResendGuard) ShouldWithhold(inflight, target uint32) bool {
	return g.active && uint64(inflight)*2 > uint64(target)
}

// Reset discards the running episode and every reduction.
func (g *ResendGuard) Reset() {
	*g = ResendGuard{}
}

// reduceTarget subtracts margin from target, flooring at MinInflightTarget,
// or at target itself when it is already below the floor.
func reduceTarget(target, margin uint32) uint32 {
	floor := min(target, MinInflightTarget)
	if target <= margin || target-margin < floor {
		return floor
	}

	return target - margin
}
