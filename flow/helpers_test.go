package flow

import (
	"testing"
	"time"

	"github.com/arloliu/go-ackflow/logger"
	"github.com/stretchr/testify/require"
)

// fakeHost is a scripted Host.
type fakeHost struct {
	currentLine uint64
	queueDepth  int
	pending     int
	resend      bool

	grants   int
	primes   int
	timeouts []time.Duration
}

var _ Host = (*fakeHost)(nil)

func (h *fakeHost) CurrentLine() uint64 { return h.currentLine }
func (h *fakeHost) QueueDepth() int { return h.queueDepth }
func (h *fakeHost) PendingTokens() int { return h.pending }
func (h *fakeHost) ResendActive() bool { return h.resend }
func (h *fakeHost) GrantToken() { h.grants++ }
func (h *fakeHost) PrimeQueue() { h.primes++ }
func (h *fakeHost) SetAckTimeout(d time.Duration) { h.timeouts = append(h.timeouts, d) }

// recordingReporter keeps every event it receives.
type recordingReporter struct {
	statuses  []string
	metrics   []Metrics
	summaries []Summary
	states    []State
}

var _ Reporter = (*recordingReporter)(nil)

func (r *recordingReporter) EmitStatus(msg string) { r.statuses = append(r.statuses, msg) }
func (r *recordingReporter) EmitMetrics(m Metrics) { r.metrics = append(r.metrics, m) }
func (r *recordingReporter) EmitSummary(s Summary) { r.summaries = append(r.summaries, s) }
func (r *recordingReporter) EmitState(s State) { r.states = append(r.states, s) }

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	host     *fakeHost
	reporter *recordingReporter
	clock    *fakeClock
	ctrl     *Controller
}

func newTestEnv(t *testing.T, opts ...SettingsOption) *testEnv {
	t.Helper()

	settings, err := NewSettings(opts...)
	require.NoError(t, err)

	env := &testEnv{
		host:     &fakeHost{},
		reporter: &recordingReporter{},
		clock:    newFakeClock(),
	}

	env.ctrl, err = NewController(env.host,
		WithSettings(settings),
		WithReporter(env.reporter),
		WithClock(env.clock.Now),
		WithLogger(logger.NewPermissiveMockLogger()),
	)
	require.NoError(t, err)

	return env
}

// handshake discovers a profile with the given reported avail values.
func (env *testEnv) handshake(t *testing.T, plannerAvail, commandAvail uint32) {
	t.Helper()

	env.ctrl.HandleEvent(EventConnecting)
	env.host.currentLine = 0
	d := env.ctrl.HandleLine(fmtAck(0, plannerAvail, commandAvail))
	require.True(t, d.Actionable)
	require.True(t, env.ctrl.Profile().Discovered())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
