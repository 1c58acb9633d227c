// Package sim simulates motion-controller firmware with advanced ok
// reporting, for replays and end-to-end tests of the printer host.
package sim

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
	"github.com/arloliu/go-ackflow/logger"
)

// Default firmware geometry.
const (
	DefaultPlannerCapacity = 16
	DefaultCommandCapacity = 8
	DefaultBlockTime       = 5 * time.Millisecond
)

// Stats contains the atomic counters of a Firmware.
type Stats struct {
	// Accepted counts lines stored in the command buffer.
	Accepted atomic.Uint64
	// Rejected counts lines answered with a resend request.
	Rejected atomic.Uint64
	// Overflows counts lines that arrived while the command buffer was full.
	Overflows atomic.Uint64
	// Executed counts commands moved from the command buffer to the planner.
	Executed atomic.Uint64
	// Starved counts completed blocks that left the planner empty.
	Starved atomic.Uint64
}

// Firmware answers numbered lines on rw the way Marlin does with ADVANCED_OK.
//
// A line with the expected number and a valid checksum is stored in the
// command buffer. Commands move to the planner while it has room, and every
// move is acknowledged with "ok N<line> P<planner free> B<command free>".
// The planner completes one block per block time. Any other line is answered
// with an error, a resend request for the expected line, and an ok.
type Firmware struct {
	rw     io.ReadWriter
	logger logger.Logger

	plannerCap  int
	commandCap  int
	blockTime   time.Duration
	rejectEvery uint64

	writeMu sync.Mutex

	mu       sync.Mutex
	expected uint64
	commands []uint64
	planner  int
	rejected map[uint64]bool
	seen     uint64

	wake  chan struct{}
	stats Stats
}

// Option is a functional option for New.
type Option interface {
	apply(*Firmware) error
}

type optFunc func(*Firmware) error

func (f optFunc) apply(fw *Firmware) error { return f(fw) }

// WithPlannerCapacity sets the number of planner blocks, in [1, 255].
func WithPlannerCapacity(n int) Option {
	return optFunc(func(fw *Firmware) error {
		if n < 1 || n > 255 {
			return fmt.Errorf("sim: planner capacity %d out of range [1, 255]", n)
		}
		fw.plannerCap = n

		return nil
	})
}

// WithCommandCapacity sets the number of command buffer slots, in [2, 255].
func WithCommandCapacity(n int) Option {
	return optFunc(func(fw *Firmware) error {
		if n < 2 || n > 255 {
			return fmt.Errorf("sim: command capacity %d out of range [2, 255]", n)
		}
		fw.commandCap = n

		return nil
	})
}

// WithBlockTime sets the time the planner needs per block, in (0, 10s].
func WithBlockTime(d time.Duration) Option {
	return optFunc(func(fw *Firmware) error {
		if d <= 0 || d > 10*time.Second {
			return fmt.Errorf("sim: block time %v out of range (0, 10s]", d)
		}
		fw.blockTime = d

		return nil
	})
}

// WithRejectEvery makes the firmware reject the first transmission of every
// n-th line, as a checksum error on a noisy line would. Zero disables it.
func WithRejectEvery(n int) Option {
	return optFunc(func(fw *Firmware) error {
		if n < 0 {
			return fmt.Errorf("sim: reject interval %d is negative", n)
		}
		fw.rejectEvery = uint64(n)

		return nil
	})
}

// WithLogger sets the logger of the firmware.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(fw *Firmware) error {
		if l == nil {
			return errors.New("sim: logger must not be nil")
		}
		fw.logger = l

		return nil
	})
}

// New creates a Firmware talking over rw.
func New(rw io.ReadWriter, opts ...Option) (*Firmware, error) {
	if rw == nil {
		return nil, errors.New("sim: line is nil")
	}

	fw := &Firmware{
		rw:         rw,
		logger:     logger.GetLogger(),
		plannerCap: DefaultPlannerCapacity,
		commandCap: DefaultCommandCapacity,
		blockTime:  DefaultBlockTime,
		rejected:   make(map[uint64]bool),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if err := opt.apply(fw); err != nil {
			return nil, err
		}
	}

	return fw, nil
}

// Stats returns the counters of the firmware.
func (fw *Firmware) Stats() *Stats { return &fw.stats }

// PlannerCapacity returns the number of planner blocks.
func (fw *Firmware) PlannerCapacity() int { return fw.plannerCap }

// CommandCapacity returns the number of command buffer slots.
func (fw *Firmware) CommandCapacity() int { return fw.commandCap }

// Run serves the line until ctx is done or the line is closed. A line that
// implements io.Closer is closed when ctx is done.
func (fw *Firmware) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		fw.execute(ctx)
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if c, ok := fw.rw.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	err := fw.receive()
	stopped := ctx.Err() != nil
	cancel()
	wg.Wait()

	if stopped || err == nil || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}

	return fmt.Errorf("sim: read line: %w", err)
}

func (fw *Firmware) receive() error {
	scanner := bufio.NewScanner(fw.rw)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fw.handle(line)
	}

	return scanner.Err()
}

func (fw *Firmware) handle(raw string) {
	n, cmd, ok := ack.ParseNumbered(raw)

	fw.mu.Lock()
	var reply []string
	switch {
	case !ok:
		fw.stats.Rejected.Add(1)
		reply = fw.resendLocked("checksum mismatch")

	case strings.HasPrefix(cmd, "M110"):
		fw.resetLocked(n)
		reply = []string{fmt.Sprintf("ok N%d P%d B%d", n, fw.plannerCap-1, fw.commandCap-1)}

	case n != fw.expected:
		fw.stats.Rejected.Add(1)
		reply = fw.resendLocked("Line Number is not Last Line Number+1")

	case fw.rejectEvery > 0 && n%fw.rejectEvery == 0 && !fw.rejected[n]:
		fw.rejected[n] = true
		fw.stats.Rejected.Add(1)
		reply = fw.resendLocked("checksum mismatch")

	case len(fw.commands) >= fw.commandCap:
		fw.stats.Overflows.Add(1)
		fw.logger.Warn("sim: command buffer overflow", "line", n)
		reply = fw.resendLocked("command buffer full")

	default:
		fw.commands = append(fw.commands, n)
		fw.expected++
		fw.stats.Accepted.Add(1)
	}
	fw.mu.Unlock()

	fw.writeLines(reply...)
	select {
	case fw.wake <- struct{}{}:
	default:
	}
}

func (fw *Firmware) resetLocked(n uint64) {
	fw.expected = n + 1
	fw.commands = fw.commands[:0]
	fw.planner = 0
	clear(fw.rejected)
}

func (fw *Firmware) resendLocked(reason string) []string {
	last := fw.expected - 1
	if fw.expected == 0 {
		last = 0
	}

	return []string{
		fmt.Sprintf("Error:%s, Last Line: %d", reason, last),
		fmt.Sprintf("Resend: %d", fw.expected),
		fmt.Sprintf("ok N%d P%d B%d", last, fw.plannerCap-fw.planner, fw.commandCap-len(fw.commands)),
	}
}

// execute moves commands to the planner and completes one block per block time.
func (fw *Firmware) execute(ctx context.Context) {
	ticker := time.NewTicker(fw.blockTime)
	defer ticker.Stop()

	for {
		fw.writeLines(fw.plan()...)

		select {
		case <-ctx.Done():
			return
		case <-fw.wake:
		case <-ticker.C:
			fw.complete()
		}
	}
}

func (fw *Firmware) plan() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	var oks []string
	for len(fw.commands) > 0 && fw.planner < fw.plannerCap {
		n := fw.commands[0]
		fw.commands = fw.commands[1:]
		fw.planner++
		fw.stats.Executed.Add(1)
		oks = append(oks, fmt.Sprintf("ok N%d P%d B%d", n, fw.plannerCap-fw.planner, fw.commandCap-len(fw.commands)))
	}

	return oks
}

func (fw *Firmware) complete() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.planner == 0 {
		return
	}
	fw.planner--
	if fw.planner == 0 && len(fw.commands) == 0 {
		fw.stats.Starved.Add(1)
	}
}

func (fw *Firmware) writeLines(lines ...string) {
	if len(lines) == 0 {
		return
	}

	fw.writeMu.Lock()
	defer fw.writeMu.Unlock()

	for _, line := range lines {
		if _, err := io.WriteString(fw.rw, line+"\n"); err != nil {
			fw.logger.Debug("sim: write failed", "error", err)
			return
		}
	}
}
