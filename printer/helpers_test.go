package printer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-ackflow/ack"
	"github.com/arloliu/go-ackflow/flow"
	"github.com/arloliu/go-ackflow/logger"
	"github.com/stretchr/testify/require"
)

// fakeFirmware answers numbered lines on the remote end of a net.Pipe the
// way Marlin does with ADVANCED_OK: a line with the expected number and a
// valid checksum is accepted, anything else is answered with a resend
// request for the expected line followed by an ok.
type fakeFirmware struct {
	conn net.Conn

	mu        sync.Mutex
	accepted  []string
	raw       []string
	expected  uint64
	rejectOne map[uint64]bool
	plainOk   bool
	silent    bool

	plannerAvail uint32
	commandAvail uint32
}

func newFakeFirmware(conn net.Conn) *fakeFirmware {
	return &fakeFirmware{
		conn:         conn,
		rejectOne:    make(map[uint64]bool),
		plannerAvail: 3,
		commandAvail: 14,
	}
}

func (f *fakeFirmware) run() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		f.handle(scanner.Text())
	}
}

func (f *fakeFirmware) handle(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.raw = append(f.raw, raw)
	if f.silent {
		return
	}

	n, cmd, ok := parseNumbered(raw)
	if !ok {
		f.requestResend()
		return
	}

	if cmd == DefaultHelloCommand {
		f.expected = 1
		f.accepted = nil
		f.ok(0)

		return
	}

	if n != f.expected || f.rejectOne[n] {
		delete(f.rejectOne, n)
		f.requestResend()

		return
	}

	f.accepted = append(f.accepted, cmd)
	f.expected++
	f.ok(n)
}

func (f *fakeFirmware) requestResend() {
	f.writef("Error:Line Number is not Last Line Number+1, Last Line: %d", f.expected-1)
	f.writef("Resend: %d", f.expected)
	f.ok(f.expected - 1)
}

func (f *fakeFirmware) ok(n uint64) {
	if f.plainOk {
		f.writef("ok")
		return
	}
	f.writef("ok N%d P%d B%d", n, f.plannerAvail, f.commandAvail)
}

func (f *fakeFirmware) writef(format string, args ...any) {
	_, _ = fmt.Fprintf(f.conn, format+"\n", args...)
}

func (f *fakeFirmware) acceptedCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.accepted...)
}

func (f *fakeFirmware) rawLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.raw...)
}

// parseNumbered splits "N<n> <cmd>*<checksum>" and verifies the checksum.
func parseNumbered(raw string) (uint64, string, bool) {
	return ack.ParseNumbered(raw)
}

// recordingHandler forwards to an optional controller and records events.
type recordingHandler struct {
	mu     sync.Mutex
	ctrl   *flow.Controller
	lines  []string
	events []flow.Event
}

func (h *recordingHandler) HandleLine(line string) flow.Decision {
	h.mu.Lock()
	h.lines = append(h.lines, line)
	h.mu.Unlock()

	if h.ctrl != nil {
		return h.ctrl.HandleLine(line)
	}

	return flow.Decision{}
}

func (h *recordingHandler) HandleEvent(ev flow.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()

	if h.ctrl != nil {
		h.ctrl.HandleEvent(ev)
	}
}

func (h *recordingHandler) recordedEvents() []flow.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]flow.Event(nil), h.events...)
}

// newTestConfig creates a Config with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...ConfigOption) *Config {
	t.Helper()

	defaults := []ConfigOption{
		WithOkTimeout(time.Second),
		WithLogger(logger.NewPermissiveMockLogger()),
	}

	cfg, err := NewConfig(append(defaults, opts...)...)
	require.NoError(t, err)

	return cfg
}

type testRig struct {
	conn     *Conn
	fw       *fakeFirmware
	handler  *recordingHandler
	cancel   context.CancelFunc
	runErr   chan error
	firmware net.Conn
}

// startRig runs a Conn against a fake firmware until the test ends.
func startRig(t *testing.T, cfg *Config, withController bool, setup func(fw *fakeFirmware)) *testRig {
	t.Helper()

	local, remote := net.Pipe()
	conn, err := NewConn(local, cfg)
	require.NoError(t, err)

	fw := newFakeFirmware(remote)
	if setup != nil {
		setup(fw)
	}
	go fw.run()

	h := &recordingHandler{}
	if withController {
		settings, err := flow.NewSettings(flow.WithMinTokenInterval(0))
		require.NoError(t, err)
		h.ctrl, err = flow.NewController(conn,
			flow.WithSettings(settings),
			flow.WithLogger(logger.NewPermissiveMockLogger()),
		)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rig := &testRig{conn: conn, fw: fw, handler: h, cancel: cancel, runErr: make(chan error, 1), firmware: remote}
	go func() { rig.runErr <- conn.Run(ctx, h) }()

	t.Cleanup(func() {
		cancel()
		_ = remote.Close()
		select {
		case <-conn.Done():
		case <-time.After(2 * time.Second):
			t.Error("connection did not stop")
		}
	})

	return rig
}

func gcode(n int) []string {
	cmds := make([]string, n)
	for i := range cmds {
		cmds[i] = fmt.Sprintf("G1 X%d Y%d", i, i*2)
	}

	return cmds
}
