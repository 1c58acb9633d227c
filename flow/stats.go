package flow

import (
	"sync/atomic"
	"time"
)

// Statistics contains the atomic per-session counters of a Controller.
// The counters can be used as the value of a prometheus CounterFunc.
type Statistics struct {
	// CommandUnderruns counts acks that reported an empty command buffer.
	CommandUnderruns atomic.Uint64
	// PlannerUnderruns counts acks that reported an empty planner buffer.
	PlannerUnderruns atomic.Uint64
	// ResendsDetected counts resend episodes, not resend requests.
	ResendsDetected atomic.Uint64
	// TokensReleased counts extra send tokens granted to the host.
	TokensReleased atomic.Uint64

	// AcksProcessed counts actionable acks.
	AcksProcessed atomic.Uint64
	// AcksWithheld counts acks consumed to drain a resend episode.
	AcksWithheld atomic.Uint64
	// InflightAnomalies counts acks for which the inflight window came out negative.
	InflightAnomalies atomic.Uint64
}

// Counters is a point-in-time copy of Statistics.
type Counters struct {
	CommandUnderruns  uint64 `json:"command_underruns_detected"`
	PlannerUnderruns  uint64 `json:"planner_underruns_detected"`
	ResendsDetected   uint64 `json:"resends_detected"`
	TokensReleased    uint64 `json:"cts_triggered"`
	AcksProcessed     uint64 `json:"acks_processed"`
	AcksWithheld      uint64 `json:"acks_withheld"`
	InflightAnomalies uint64 `json:"inflight_anomalies"`
}

// Reset zeroes every counter.
func (s *Statistics) Reset() {
	s.CommandUnderruns.Store(0)
	s.PlannerUnderruns.Store(0)
	s.ResendsDetected.Store(0)
	s.TokensReleased.Store(0)
	s.AcksProcessed.Store(0)
	s.AcksWithheld.Store(0)
	s.InflightAnomalies.Store(0)
}

// Snapshot returns a copy of the counters.
func (s *Statistics) Snapshot() Counters {
	return Counters{
		CommandUnderruns:  s.CommandUnderruns.Load(),
		PlannerUnderruns:  s.PlannerUnderruns.Load(),
		ResendsDetected:   s.ResendsDetected.Load(),
		TokensReleased:    s.TokensReleased.Load(),
		AcksProcessed:     s.AcksProcessed.Load(),
		AcksWithheld:      s.AcksWithheld.Load(),
		InflightAnomalies: s.InflightAnomalies.Load(),
	}
}

func (s *Statistics) recordUnderrun(k UnderrunKind) {
	if k.Has(UnderrunCommand) {
		s.CommandUnderruns.Add(1)
	}
	if k.Has(UnderrunPlanner) {
		s.PlannerUnderruns.Add(1)
	}
}

// Summary is the report emitted when a print or transfer ends.
type Summary struct {
	Counters

	Session   Session       `json:"session"`
	Event     Event         `json:"event"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Failed returns if the session ended with a failure event.
func (s Summary) Failed() bool { return s.Event.IsFailure() }
