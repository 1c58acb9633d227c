package printer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-ackflow/ack"
	"github.com/arloliu/go-ackflow/flow"
	"github.com/arloliu/go-ackflow/internal/pool"
	"github.com/arloliu/go-ackflow/internal/queue"
	"github.com/arloliu/go-ackflow/logger"
)

const (
	// workPollTimeout bounds the wait of the idle send loop, in case a work
	// notification was coalesced away.
	workPollTimeout = 50 * time.Millisecond

	// drainCheckInterval is the interval for checking whether a finished
	// session has been acknowledged.
	drainCheckInterval = 5 * time.Millisecond
)

// Sentinel errors of the printer host.
var (
	ErrConfigNil     = errors.New("printer: config is nil")
	ErrHandlerNil    = errors.New("printer: handler is nil")
	ErrConnClosed    = errors.New("printer: connection closed")
	ErrAlreadyRun    = errors.New("printer: connection already started")
	ErrSessionActive = errors.New("printer: another print or transfer is running")
)

// Handler receives every firmware line and every lifecycle event of a Conn.
// flow.Controller implements it.
type Handler interface {
	HandleLine(line string) flow.Decision
	HandleEvent(ev flow.Event)
}

// Conn is a host that owns one serial line to the firmware.
//
// It numbers and checksums outbound commands, keeps a resend history and
// runs a counting token gate: every ok not withheld by the handler releases
// one send token, and so does every GrantToken call. Conn implements
// flow.Host.
//
// A Conn is single use: Run starts it and closes the line when it returns.
type Conn struct {
	rw     io.ReadWriteCloser
	cfg    *Config
	logger logger.Logger

	handlerMu sync.Mutex
	handler   Handler

	started   atomic.Bool
	connected chan struct{}
	connOnce  sync.Once
	done      chan struct{}

	// outbound holds commands not yet numbered; producers are Send and the
	// session feeder, the consumer is the send loop.
	outbound queue.Queue[string]
	work     chan struct{}
	dequeued chan struct{}
	prime    chan struct{}

	tokens     chan struct{}
	ackTimeout chan time.Duration

	currentLine atomic.Uint64
	ackedLine   atomic.Uint64
	lineAcks    atomic.Bool
	history     *history

	// counters for settling a finished session
	enqueued  atomic.Uint64
	written   atomic.Uint64
	okCount   atomic.Uint64
	sentCount atomic.Uint64

	resendMu     sync.Mutex
	resendActive atomic.Bool
	resendFrom   uint64
	resendEnd    uint64
	replay       queue.Queue[uint64]

	inSession atomic.Bool

	metrics ConnectionMetrics
}

var _ flow.Host = (*Conn)(nil)

// NewConn creates a Conn over rw.
func NewConn(rw io.ReadWriteCloser, cfg *Config) (*Conn, error) {
	if rw == nil {
		return nil, errors.New("printer: line is nil")
	}
	if cfg == nil {
		return nil, ErrConfigNil
	}

	return &Conn{
		rw:         rw,
		cfg:        cfg,
		logger:     cfg.logger,
		connected:  make(chan struct{}),
		done:       make(chan struct{}),
		outbound:   queue.NewLockFreeQueue[string](),
		work:       make(chan struct{}, 1),
		dequeued:   make(chan struct{}, 1),
		prime:      make(chan struct{}, 1),
		tokens:     make(chan struct{}, cfg.tokenCapacity),
		ackTimeout: make(chan time.Duration, 1),
		history:    newHistory(cfg.historySize),
		replay:     queue.NewSliceQueue[uint64](cfg.historySize),
	}, nil
}

// Metrics returns the connection metrics.
func (c *Conn) Metrics() *ConnectionMetrics { return &c.metrics }

// Connected returns a channel closed once the firmware acknowledged the hello command.
func (c *Conn) Connected() <-chan struct{} { return c.connected }

// Done returns a channel closed when Run returned.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Run starts the connection: it emits flow.EventConnecting, sends the hello
// command as line 0 and runs the receive and send loops until ctx is done or
// the line fails. The line is closed on return.
//
// Run returns nil when ctx is done, otherwise the error that stopped it.
func (c *Conn) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return ErrHandlerNil
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	defer close(c.done)

	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.dispatchEvent(flow.EventConnecting)

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- c.receiveLoop()
	}()
	go func() {
		defer wg.Done()
		errCh <- c.sendLoop(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	cancel()
	if cerr := c.rw.Close(); cerr != nil && err == nil && ctx.Err() == nil {
		err = fmt.Errorf("printer: close line: %w", cerr)
	}
	wg.Wait()

	c.logger.Info("printer: connection stopped", "error", err)

	return err
}

// Send queues one command. Comments and surrounding spaces are removed;
// empty commands are ignored.
func (c *Conn) Send(cmd string) {
	if cmd = StripComment(cmd); cmd == "" {
		return
	}
	c.enqueue(cmd)
}

func (c *Conn) enqueue(cmd string) {
	c.enqueued.Add(1)
	c.outbound.Enqueue(cmd)
	notify(c.work)
}

// Print feeds the commands of src within a printing session and waits until
// the firmware acknowledged every one of them. It first waits for the
// connection to be established by Run.
func (c *Conn) Print(ctx context.Context, src Source) error {
	return c.runSession(ctx, src, flow.EventPrintStarted, flow.EventPrintDone, flow.EventPrintFailed)
}

// Transfer streams src to the firmware storage as file name within a
// streaming session, framed by M28 and M29.
func (c *Conn) Transfer(ctx context.Context, name string, src Source) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("printer: transfer file name is empty")
	}
	framed := &framedSource{head: "M28 " + name, tail: "M29 " + name, src: src}

	return c.runSession(ctx, framed, flow.EventTransferStarted, flow.EventTransferDone, flow.EventTransferFailed)
}

func (c *Conn) runSession(ctx context.Context, src Source, start, finish, fail flow.Event) error {
	if src == nil {
		return errors.New("printer: source is nil")
	}
	select {
	case <-c.connected:
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if !c.inSession.CompareAndSwap(false, true) {
		return ErrSessionActive
	}
	defer c.inSession.Store(false)

	c.dispatchEvent(start)

	err := c.feed(ctx, src)
	if err == nil {
		err = c.drain(ctx)
	}
	if err != nil {
		c.logger.Warn("printer: session failed", "event", fail, "error", err)
		c.dispatchEvent(fail)

		return err
	}
	c.dispatchEvent(finish)

	return nil
}

// feed keeps the outbound queue at the fill level until src is exhausted. A
// prime request stages one command beyond the fill level.
func (c *Conn) feed(ctx context.Context, src Source) error {
	for {
		extra := 0
		select {
		case <-c.prime:
			extra = 1
		default:
		}

		for c.outbound.Length() < c.cfg.fillLevel+extra {
			cmd, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("printer: read source: %w", err)
			}
			if cmd = StripComment(cmd); cmd == "" {
				continue
			}
			c.enqueue(cmd)
		}

		select {
		case <-c.dequeued:
		case <-c.prime:
			notify(c.prime)
		case <-c.done:
			return ErrConnClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain waits until every queued command was sent and acknowledged.
func (c *Conn) drain(ctx context.Context) error {
	ticker := time.NewTicker(drainCheckInterval)
	defer ticker.Stop()

	for !c.settled() {
		select {
		case <-ticker.C:
		case <-c.done:
			return ErrConnClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (c *Conn) settled() bool {
	if c.written.Load() != c.enqueued.Load() || c.resendActive.Load() {
		return false
	}

	if c.lineAcks.Load() {
		return c.ackedLine.Load() >= c.currentLine.Load()
	}

	// firmware without line numbers in its oks is settled by counting them
	return c.okCount.Load() >= c.sentCount.Load()
}

// --- flow.Host ---

// CurrentLine returns the line number of the last command sent.
func (c *Conn) CurrentLine() uint64 { return c.currentLine.Load() }

// QueueDepth returns the number of commands waiting in the outbound queue.
func (c *Conn) QueueDepth() int { return c.outbound.Length() }

// PendingTokens returns the number of tokens in the gate.
func (c *Conn) PendingTokens() int { return len(c.tokens) }

// ResendActive returns if lines are being retransmitted on a resend request.
func (c *Conn) ResendActive() bool { return c.resendActive.Load() }

// GrantToken releases one extra send token.
func (c *Conn) GrantToken() {
	c.metrics.incTokenGrantCount()
	c.releaseToken()
}

// PrimeQueue asks the session feeder to stage one more command.
func (c *Conn) PrimeQueue() {
	c.metrics.incPrimeCount()
	notify(c.prime)
}

// SetAckTimeout shortens the wait for the next ok to d. The running wait is
// restarted with d.
func (c *Conn) SetAckTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case c.ackTimeout <- d:
	default:
	}
}

// --- receive side ---

func (c *Conn) receiveLoop() error {
	scanner := bufio.NewScanner(c.rw)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.metrics.incLineRecvCount()
		c.handleLine(line)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("printer: read line: %w", err)
	}

	return ErrConnClosed
}

func (c *Conn) handleLine(line string) {
	if n, ok := ack.ParseResend(line); ok {
		c.requestResend(n)
		return
	}

	d := c.dispatchLine(line)
	if !isOk(line) {
		if strings.HasPrefix(line, "Error") || strings.HasPrefix(line, "!!") {
			c.logger.Warn("printer: firmware error", "line", line)
		}
		return
	}

	c.metrics.incOkRecvCount()
	c.okCount.Add(1)
	c.connOnce.Do(func() { close(c.connected) })

	info, parsed := ack.Parse(line)
	if parsed && info.HasLine {
		c.lineAcks.Store(true)
		if info.Line > c.ackedLine.Load() {
			c.ackedLine.Store(info.Line)
		}
	}
	c.settleResend(info, parsed)

	if d.Withhold {
		c.metrics.incOkWithheldCount()
		return
	}
	c.releaseToken()
}

func (c *Conn) dispatchLine(line string) flow.Decision {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	return c.handler.HandleLine(line)
}

func (c *Conn) dispatchEvent(ev flow.Event) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.handler.HandleEvent(ev)
}

func (c *Conn) releaseToken() {
	select {
	case c.tokens <- struct{}{}:
	default:
		c.metrics.incTokenDropCount()
	}
}

// requestResend rewinds the send loop to line n. Repeated requests for the
// line a running replay started from are swallowed.
func (c *Conn) requestResend(n uint64) {
	c.metrics.incResendRequestCount()

	c.resendMu.Lock()
	defer c.resendMu.Unlock()

	cur := c.currentLine.Load()
	if c.resendActive.Load() && n == c.resendFrom {
		c.logger.Debug("printer: repeated resend request swallowed", "line", n)
		return
	}
	if n > cur {
		c.logger.Warn("printer: resend request beyond last sent line", "line", n, "current_line", cur)
		return
	}
	if _, ok := c.history.get(n); !ok {
		c.metrics.incHistoryMissCount()
		c.logger.Error("printer: resend request for a line no longer kept", "line", n, "history", c.history.len())

		return
	}

	c.replay.Reset()
	for i := n; i <= cur; i++ {
		c.replay.Enqueue(i)
	}
	c.resendFrom = n
	c.resendEnd = cur
	c.resendActive.Store(true)
	c.logger.Info("printer: resend requested", "from", n, "to", cur)
	notify(c.work)
}

// settleResend ends a resend episode once every replayed line was sent and
// the last of them acknowledged.
func (c *Conn) settleResend(info ack.Info, parsed bool) {
	if !c.resendActive.Load() {
		return
	}

	c.resendMu.Lock()
	defer c.resendMu.Unlock()

	if !c.replay.IsEmpty() {
		return
	}
	if parsed && info.HasLine && info.Line < c.resendEnd {
		return
	}
	c.resendActive.Store(false)
	c.logger.Info("printer: resend caught up", "line", c.resendEnd)
}

// --- send side ---

func (c *Conn) sendLoop(ctx context.Context) error {
	c.history.reset()
	c.currentLine.Store(0)
	c.ackedLine.Store(0)
	if err := c.writeLine(0, c.cfg.helloCommand, false); err != nil {
		return err
	}

	for {
		if err := c.awaitWork(ctx); err != nil {
			return nil
		}
		if err := c.awaitToken(ctx); err != nil {
			return nil
		}

		n, cmd, resent, ok := c.next()
		if !ok {
			// the work went away while waiting, keep the token
			c.releaseToken()
			continue
		}
		if err := c.writeLine(n, cmd, resent); err != nil {
			return err
		}
	}
}

func (c *Conn) hasWork() bool {
	if !c.outbound.IsEmpty() {
		return true
	}

	c.resendMu.Lock()
	defer c.resendMu.Unlock()

	return !c.replay.IsEmpty()
}

func (c *Conn) awaitWork(ctx context.Context) error {
	for !c.hasWork() {
		_, err := pool.Receive(ctx, c.work, workPollTimeout)
		if err != nil && !errors.Is(err, pool.ErrTimeout) {
			return err
		}
	}

	return nil
}

// awaitToken waits for a send token. When no ok arrives within the ok
// timeout, or the shorter timeout asked through SetAckTimeout, the token is
// released by the timeout itself.
func (c *Conn) awaitToken(ctx context.Context) error {
	timeout := c.cfg.okTimeout
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	for {
		select {
		case <-c.tokens:
			return nil
		case d := <-c.ackTimeout:
			if d < timeout {
				timeout = d
				timer.Reset(d)
			}
		case <-timer.C:
			c.metrics.incOkTimeoutCount()
			c.logger.Warn("printer: no ok received, releasing a token", "timeout", timeout, "line", c.currentLine.Load())

			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// next returns the next line to write: the replay of a resend request first,
// then the outbound queue.
func (c *Conn) next() (n uint64, cmd string, resent bool, ok bool) {
	c.resendMu.Lock()
	for {
		n, ok = c.replay.Dequeue()
		if !ok {
			break
		}
		if cmd, ok = c.history.get(n); ok {
			c.resendMu.Unlock()
			return n, cmd, true, true
		}
		c.metrics.incHistoryMissCount()
	}
	c.resendMu.Unlock()

	cmd, ok = c.outbound.Dequeue()
	if !ok {
		return 0, "", false, false
	}
	notify(c.dequeued)

	return c.currentLine.Load() + 1, cmd, false, true
}

func (c *Conn) writeLine(n uint64, cmd string, resent bool) error {
	line := ack.Format(n, cmd)
	if _, err := io.WriteString(c.rw, line+"\n"); err != nil {
		return fmt.Errorf("printer: write line %d: %w", n, err)
	}

	c.metrics.incLineSendCount()
	c.sentCount.Add(1)
	if resent {
		c.metrics.incLineResendCount()
		c.logger.Debug("printer: line resent", "line", n)

		return nil
	}

	c.history.put(n, cmd)
	c.currentLine.Store(n)
	if n > 0 {
		c.written.Add(1)
	}

	return nil
}

// isOk reports if line is an ok, plain or advanced.
func isOk(line string) bool {
	return line == "ok" || strings.HasPrefix(line, "ok ")
}

// notify does a non-blocking send on a one slot signal channel.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
