package flow

import (
	"strings"
	"time"

	"github.com/arloliu/go-ackflow/ack"
)

// UnderrunKind is a set of buffers observed fully drained by one ack.
type UnderrunKind uint8

const (
	// UnderrunNone means neither buffer was drained.
	UnderrunNone UnderrunKind = 0
	// UnderrunCommand means the command buffer was drained.
	UnderrunCommand UnderrunKind = 1 << 0
	// UnderrunPlanner means the planner buffer was drained.
	UnderrunPlanner UnderrunKind = 1 << 1
)

// Has returns if k contains every buffer in other.
func (k UnderrunKind) Has(other UnderrunKind) bool { return other != 0 && k&other == other }

func (k UnderrunKind) String() string {
	if k == UnderrunNone {
		return "none"
	}

	parts := make([]string, 0, 2)
	if k.Has(UnderrunCommand) {
		parts = append(parts, "command")
	}
	if k.Has(UnderrunPlanner) {
		parts = append(parts, "planner")
	}

	return strings.Join(parts, "+")
}

// Decision is the outcome of evaluating one acknowledgment.
type Decision struct {
	// Actionable is false for lines that are not advanced ok lines with a
	// line number; every other field is then zero.
	Actionable bool
	// GrantToken asks the host to release one extra queued command.
	GrantToken bool
	// PrimeQueue asks the host to stage more work first, its outbound queue is empty.
	PrimeQueue bool
	// Withhold means the ack was consumed to drain a resend episode; the host
	// must not treat it as an ok. A withheld ack has no Underrun and no
	// ReportDue.
	Withhold bool
	// Underrun lists the buffers the ack reported as fully drained.
	Underrun UnderrunKind
	// ReportDue means a metrics report should be emitted.
	ReportDue bool

	// Inflight and Target are the values the decision was made with.
	Inflight uint32
	Target   uint32
}

// evalInput is everything one evaluation depends on.
type evalInput struct {
	now        time.Time
	info       ack.Info
	inflight   uint32
	profile    BufferProfile
	session    Session
	settings   *Settings
	guard      *ResendGuard
	queueDepth int
}

// admission is the pacing decision function plus the two timestamps it keeps.
type admission struct {
	lastGrant  time.Time
	lastReport time.Time
}

// target returns the inflight ceiling for the session in force.
func (a *admission) target(profile BufferProfile, session Session, settings *Settings, guard *ResendGuard) uint32 {
	if !profile.Discovered() {
		return 0
	}

	if session.IsStreaming() {
		return guard.Target(session, settings.StreamingInflightCap())
	}

	return guard.Target(session, profile.InflightTarget(settings.InflightCap()))
}

func (a *admission) evaluate(in evalInput) Decision {
	target := a.target(in.profile, in.session, in.settings, in.guard)
	d := Decision{
		Actionable: true,
		Inflight:   in.inflight,
		Target:     target,
		ReportDue:  in.now.Sub(a.lastReport) > in.settings.ReportInterval(),
	}

	// a withheld ack is neither counted nor reported
	if in.settings.Enabled() && in.guard.ShouldWithhold(in.inflight, target) {
		d.Withhold = true
		d.ReportDue = false

		return d
	}

	// one below capacity is empty, given the off-by-one reporting
	if !in.session.IsStreaming() && in.profile.Discovered() {
		if in.info.CommandAvail == in.profile.CommandCapacity-1 {
			d.Underrun |= UnderrunCommand
		}
		if in.info.PlannerAvail == in.profile.PlannerCapacity-1 {
			d.Underrun |= UnderrunPlanner
		}
	}

	if !in.settings.Enabled() || in.guard.Active() {
		return d
	}

	if in.info.CommandAvail > 1 && in.inflight < target &&
		in.now.Sub(a.lastGrant) > in.settings.MinTokenInterval() {
		d.GrantToken = true
		// granting with nothing queued does nothing
		d.PrimeQueue = in.queueDepth == 0
		d.ReportDue = true
	}

	return d
}

// granted records a grant at now.
func (a *admission) granted(now time.Time) { a.lastGrant = now }

// reported records a report at now.
func (a *admission) reported(now time.Time) { a.lastReport = now }

// deferUntil holds grants back until t plus the minimum token interval.
func (a *admission) deferUntil(t time.Time) {
	if t.After(a.lastGrant) {
		a.lastGrant = t
	}
}

func (a *admission) reset() {
	*a = admission{}
}
