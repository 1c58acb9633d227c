package flow

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-ackflow/ack"
	"github.com/arloliu/go-ackflow/logger"
)

// Status texts emitted through Reporter.EmitStatus.
const (
	StatusBufferDetected = "Buffer sizes detected"
	StatusResendDetected = "Resend detected, backing off"
	StatusResendOver     = "Resend over, resuming..."
	StatusMonitoring     = "Monitoring"
	StatusReady          = "Ready"
)

// Controller is the connection-scoped admission controller.
//
// HandleLine and HandleEvent must not be called concurrently; the host calls
// them from the goroutine that reads the serial line.
type Controller struct {
	host     Host
	reporter Reporter
	logger   logger.Logger
	clock    func() time.Time

	settings      atomic.Pointer[Settings]
	settingsDirty atomic.Bool

	profile      BufferProfile
	session      Session
	sessionStart time.Time
	guard        ResendGuard
	adm          admission
	stats        Statistics
}

// Option is a functional option for NewController.
type Option interface {
	apply(*Controller) error
}

type optFunc func(*Controller) error

func (f optFunc) apply(c *Controller) error { return f(c) }

// WithSettings sets the initial settings. DefaultSettings is used otherwise.
func WithSettings(s *Settings) Option {
	return optFunc(func(c *Controller) error {
		if s == nil {
			return errors.New("flow: settings must not be nil")
		}
		c.settings.Store(s)

		return nil
	})
}

// WithReporter sets the reporter receiving status, metrics, summary and state events.
func WithReporter(r Reporter) Option {
	return optFunc(func(c *Controller) error {
		if r == nil {
			return errors.New("flow: reporter must not be nil")
		}
		c.reporter = r

		return nil
	})
}

// WithLogger sets the logger of the controller.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(c *Controller) error {
		if l == nil {
			return errors.New("flow: logger must not be nil")
		}
		c.logger = l

		return nil
	})
}

// WithClock replaces time.Now, mostly for simulated time in tests and replays.
func WithClock(now func() time.Time) Option {
	return optFunc(func(c *Controller) error {
		if now == nil {
			return errors.New("flow: clock must not be nil")
		}
		c.clock = now

		return nil
	})
}

// NewController creates a Controller driving host.
func NewController(host Host, opts ...Option) (*Controller, error) {
	if host == nil {
		return nil, ErrHostNil
	}

	c := &Controller{
		host:     host,
		reporter: NopReporter{},
		logger:   logger.GetLogger(),
		clock:    time.Now,
	}

	for _, opt := range opts {
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	if c.settings.Load() == nil {
		c.settings.Store(DefaultSettings())
	}
	c.sessionStart = c.clock()

	return c, nil
}

// ApplySettings swaps the settings snapshot. It is safe to call from any
// goroutine; the next ack is evaluated with s, and the state event of the
// new configuration is emitted from the next HandleLine or HandleEvent call.
func (c *Controller) ApplySettings(s *Settings) {
	if s == nil {
		return
	}
	c.settings.Store(s)
	c.settingsDirty.Store(true)
	c.logger.Info("flow settings applied",
		"enabled", s.Enabled(),
		"min_token_interval", s.MinTokenInterval(),
		"inflight_cap", s.InflightCap(),
		"streaming_inflight_cap", s.StreamingInflightCap(),
	)
}

func (c *Controller) flushSettings() {
	if c.settingsDirty.Swap(false) {
		c.reporter.EmitState(c.State())
	}
}

// Settings returns the settings snapshot in force.
func (c *Controller) Settings() *Settings { return c.settings.Load() }

// Profile returns the discovered buffer profile.
//
// Profile, Session and Summarize are not safe for concurrent use with
// HandleLine.
func (c *Controller) Profile() BufferProfile { return c.profile }

// Session returns the running session.
func (c *Controller) Session() Session { return c.session }

// Statistics returns the live counters. They may be read from any goroutine.
func (c *Controller) Statistics() *Statistics { return &c.stats }

// State returns the current configuration of the controller. Like
// HandleLine, it must be called from the receive goroutine.
func (c *Controller) State() State {
	settings := c.settings.Load()

	return State{
		PlannerBufferSize: c.profile.PlannerCapacity,
		CommandBufferSize: c.profile.CommandCapacity,
		InflightTarget:    c.adm.target(c.profile, c.session, settings, &c.guard),
		Session:           c.session,
		Enabled:           settings.Enabled(),
	}
}

// Summarize returns the statistics of the running session.
func (c *Controller) Summarize() Summary {
	return Summary{
		Counters:  c.stats.Snapshot(),
		Session:   c.session,
		StartedAt: c.sessionStart,
		Duration:  c.clock().Sub(c.sessionStart),
	}
}

// HandleLine processes one line received from the firmware.
//
// Lines that are not advanced ok lines return a zero Decision and change no
// state. The host forwards the line to its own ok handling unless the
// Decision has Withhold set.
func (c *Controller) HandleLine(line string) Decision {
	c.flushSettings()

	info, ok := ack.Parse(line)
	if !ok {
		return Decision{}
	}

	settings := c.settings.Load()
	now := c.clock()

	if !c.profile.Discovered() && c.profile.Discover(info) {
		c.logger.Info("detected buffer sizes",
			"planner_buffer_size", c.profile.PlannerCapacity,
			"command_buffer_size", c.profile.CommandCapacity,
			"inflight_target", c.profile.InflightTarget(settings.InflightCap()),
		)
		c.reporter.EmitStatus(StatusBufferDetected)
		c.reporter.EmitState(c.State())
	}

	c.observeResend(now, settings)

	if !info.Actionable() {
		return Decision{}
	}
	c.stats.AcksProcessed.Add(1)

	currentLine := c.host.CurrentLine()
	pending := c.host.PendingTokens()
	inflight, clamped := ComputeInflight(currentLine, info.Line, pending)
	if clamped {
		c.stats.InflightAnomalies.Add(1)
		c.logger.Warn("negative inflight clamped to zero",
			"current_line", currentLine, "acked_line", info.Line, "pending_tokens", pending)
	}

	queueDepth := c.host.QueueDepth()
	d := c.adm.evaluate(evalInput{
		now:        now,
		info:       info,
		inflight:   inflight,
		profile:    c.profile,
		session:    c.session,
		settings:   settings,
		guard:      &c.guard,
		queueDepth: queueDepth,
	})

	if d.Withhold {
		c.host.SetAckTimeout(ResendAckTimeout)
		c.stats.AcksWithheld.Add(1)
		c.logger.Warn("withholding ok to decrease inflight",
			"inflight", inflight, "target", d.Target, "line", line)
	}

	c.stats.recordUnderrun(d.Underrun)

	if d.GrantToken {
		if d.PrimeQueue {
			c.logger.Debug("command queue empty, priming host queue")
			c.host.PrimeQueue()
		}
		c.host.GrantToken()
		c.stats.TokensReleased.Add(1)
		c.adm.granted(now)
	}

	if d.ReportDue {
		c.report(now, currentLine, info, d, queueDepth, pending)
	}

	return d
}

// observeResend feeds the host's resend signal to the guard and applies the
// episode's side effects.
func (c *Controller) observeResend(now time.Time, settings *Settings) {
	switch c.guard.Observe(c.host.ResendActive(), c.session) {
	case ResendStarted:
		c.stats.ResendsDetected.Add(1)
		c.logger.Warn("resend detected, backing off", "session", c.session)
		c.reporter.EmitStatus(StatusResendDetected)
	case ResendEnded:
		c.logger.Info("resend over, resuming", "target", c.adm.target(c.profile, c.session, settings, &c.guard))
		c.reporter.EmitStatus(StatusResendOver)
		return
	case ResendUnchanged:
	}

	if !c.guard.Active() || !settings.Enabled() {
		return
	}

	if c.guard.NeedsThrottle() {
		prior := c.adm.target(c.profile, c.session, settings, &c.guard)
		c.guard.Throttle(c.session, prior)
		if !c.session.IsStreaming() {
			c.host.SetAckTimeout(ResendAckTimeout)
		}
		c.logger.Debug("resend back-off applied",
			"session", c.session,
			"prior_target", prior,
			"target", c.adm.target(c.profile, c.session, settings, &c.guard),
		)
	}

	if !c.session.IsStreaming() {
		c.adm.deferUntil(now.Add(settings.PostResendDelay()))
	}
}

func (c *Controller) report(now time.Time, currentLine uint64, info ack.Info, d Decision, queueDepth, pending int) {
	c.reporter.EmitMetrics(Metrics{
		Counters:      c.stats.Snapshot(),
		CurrentLine:   currentLine,
		AckedLine:     info.Line,
		Inflight:      d.Inflight,
		Target:        d.Target,
		PlannerAvail:  info.PlannerAvail,
		CommandAvail:  info.CommandAvail,
		QueueDepth:    queueDepth,
		PendingTokens: pending,
	})
	c.logger.Debug("flow report",
		"current_line", currentLine,
		"acked_line", info.Line,
		"command_avail", info.CommandAvail,
		"inflight", d.Inflight,
		"pending_tokens", pending,
		"queue", queueDepth,
	)
	c.adm.reported(now)
	c.reporter.EmitStatus(StatusMonitoring)
}

// HandleEvent applies a host lifecycle event. Every event is idempotent.
func (c *Controller) HandleEvent(ev Event) {
	c.flushSettings()
	now := c.clock()

	switch ev {
	case EventConnecting:
		c.profile.Reset()
		c.stats.Reset()
		c.guard.Reset()
		c.adm.reset()
		c.session = IdleSession
		c.sessionStart = now
		c.logger.Debug("connecting, buffer profile cleared")

	case EventTransferStarted:
		c.startSession(now, StreamingSession)

	case EventPrintStarted:
		c.startSession(now, PrintingSession)

	case EventTransferDone, EventTransferFailed, EventPrintDone, EventPrintFailed:
		c.finishSession(now, ev)

	default:
		c.logger.Warn("ignoring unknown lifecycle event", "event", ev)
	}
}

func (c *Controller) startSession(now time.Time, session Session) {
	c.stats.Reset()
	c.guard.Reset()
	c.session = session
	c.sessionStart = now
	c.logger.Info("session started", "session", session)
	c.reporter.EmitState(c.State())
}

func (c *Controller) finishSession(now time.Time, ev Event) {
	if c.settings.Load().ReportOnSessionEnd() && !c.session.IsIdle() {
		summary := c.Summarize()
		summary.Event = ev
		summary.Duration = now.Sub(c.sessionStart)
		c.reporter.EmitSummary(summary)
	}

	c.logger.Info("session finished", "session", c.session, "event", ev)
	c.session = IdleSession
	c.reporter.EmitStatus(StatusReady)
	c.reporter.EmitState(c.State())
}
