package flow

import (
	"time"

	"github.com/arloliu/go-ackflow/logger"
)

// Host is the narrow capability interface a Controller uses to read the
// host's send state and to hand it requests. It is supplied once to
// NewController.
//
// None of the methods may block: the Controller calls them from the host's
// receive loop while it processes an ack.
type Host interface {
	// CurrentLine returns the line number of the last command sent.
	CurrentLine() uint64
	// QueueDepth returns the number of commands waiting in the host's outbound queue.
	QueueDepth() int
	// PendingTokens returns the number of send tokens granted but not yet consumed.
	PendingTokens() int
	// ResendActive returns if the host is retransmitting lines on the firmware's request.
	ResendActive() bool
	// GrantToken releases one extra send token to the host's send loop.
	GrantToken()
	// PrimeQueue asks the host to stage more work in its outbound queue.
	PrimeQueue()
	// SetAckTimeout asks the host to give up waiting for the next ok after d.
	// It is advisory; the host owns the timer.
	SetAckTimeout(d time.Duration)
}

// Metrics is the periodic pacing report.
type Metrics struct {
	Counters

	CurrentLine   uint64 `json:"current_line_number"`
	AckedLine     uint64 `json:"acked_line_number"`
	Inflight      uint32 `json:"inflight"`
	Target        uint32 `json:"inflight_target"`
	PlannerAvail  uint32 `json:"planner_buffer_avail"`
	CommandAvail  uint32 `json:"command_buffer_avail"`
	QueueDepth    int    `json:"send_queue_size"`
	PendingTokens int    `json:"pending_tokens"`
}

// State describes the controller configuration as it stands.
type State struct {
	PlannerBufferSize uint32  `json:"planner_buffer_size"`
	CommandBufferSize uint32  `json:"command_buffer_size"`
	InflightTarget    uint32  `json:"inflight_target"`
	Session           Session `json:"state"`
	Enabled           bool    `json:"enabled"`
}

// Reporter receives the status, metrics, summary and state events of a
// Controller. Like Host, it is called synchronously and may not block.
type Reporter interface {
	EmitStatus(msg string)
	EmitMetrics(m Metrics)
	EmitSummary(s Summary)
	EmitState(s State)
}

// NopReporter discards every event.
type NopReporter struct{}

var _ Reporter = NopReporter{}

func (NopReporter) EmitStatus(string) {}
func (NopReporter) EmitMetrics(Metrics) {}
func (NopReporter) EmitSummary(Summary) {}
func (NopReporter) EmitState(State) {}

// LogReporter writes every event to a logger: metrics at debug level, the
// rest at info level.
type LogReporter struct {
	logger logger.Logger
}

var _ Reporter = (*LogReporter)(nil)

// NewLogReporter creates a LogReporter. A nil logger selects the package default.
func NewLogReporter(l logger.Logger) *LogReporter {
	if l == nil {
		l = logger.GetLogger()
	}

	return &LogReporter{logger: l}
}

func (r *LogReporter) EmitStatus(msg string) {
	r.logger.Info("flow status", "status", msg)
}

func (r *LogReporter) EmitMetrics(m Metrics) {
	r.logger.Debug("flow metrics",
		"current_line", m.CurrentLine,
		"acked_line", m.AckedLine,
		"inflight", m.Inflight,
		"target", m.Target,
		"planner_avail", m.PlannerAvail,
		"command_avail", m.CommandAvail,
		"queue", m.QueueDepth,
		"pending_tokens", m.PendingTokens,
		"tokens_released", m.TokensReleased,
		"resends", m.ResendsDetected,
		"command_underruns", m.CommandUnderruns,
		"planner_underruns", m.PlannerUnderruns,
	)
}

func (r *LogReporter) EmitSummary(s Summary) {
	r.logger.Info("flow session summary",
		"session", s.Session,
		"event", s.Event,
		"duration", s.Duration,
		"tokens_released", s.TokensReleased,
		"resends", s.ResendsDetected,
		"command_underruns", s.CommandUnderruns,
		"planner_underruns", s.PlannerUnderruns,
		"acks_withheld", s.AcksWithheld,
		"inflight_anomalies", s.InflightAnomalies,
	)
}

func (r *LogReporter) EmitState(s State) {
	r.logger.Info("flow state",
		"session", s.Session,
		"enabled", s.Enabled,
		"planner_buffer_size", s.PlannerBufferSize,
		"command_buffer_size", s.CommandBufferSize,
		"inflight_target", s.InflightTarget,
	)
}
