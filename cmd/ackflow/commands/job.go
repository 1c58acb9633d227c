package commands

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/arloliu/go-ackflow/config"
	"github.com/arloliu/go-ackflow/flow"
	"github.com/arloliu/go-ackflow/logger"
	"github.com/arloliu/go-ackflow/metrics"
	"github.com/arloliu/go-ackflow/printer"
	"github.com/prometheus/client_golang/prometheus"
)

// job is one print or transfer over a line.
type job struct {
	cfg    *config.Config
	logger logger.Logger
	source printer.Source
	// transfer streams the source to the firmware storage under this name
	// when set.
	transfer  string
	watchPath string
}

type jobResult struct {
	session  flow.Session
	counters flow.Counters
	conn     *printer.ConnectionMetrics
	profile  flow.BufferProfile
	elapsed  time.Duration
	err      error
}

func (r *jobResult) rows() [][2]string {
	status := "done"
	if r.err != nil {
		status = "failed: " + r.err.Error()
	}

	return [][2]string{
		{"Session", r.session.String()},
		{"Result", status},
		{"Duration", r.elapsed.Round(time.Millisecond).String()},
		{"Planner buffer", uitoa(uint64(r.profile.PlannerCapacity))},
		{"Command buffer", uitoa(uint64(r.profile.CommandCapacity))},
		{"Acks processed", uitoa(r.counters.AcksProcessed)},
		{"Tokens released", uitoa(r.counters.TokensReleased)},
		{"Resends detected", uitoa(r.counters.ResendsDetected)},
		{"Command underruns", uitoa(r.counters.CommandUnderruns)},
		{"Planner underruns", uitoa(r.counters.PlannerUnderruns)},
		{"Acks withheld", uitoa(r.counters.AcksWithheld)},
		{"Inflight anomalies", uitoa(r.counters.InflightAnomalies)},
		{"Lines sent", uitoa(r.conn.LineSendCount.Load())},
		{"Lines resent", uitoa(r.conn.LineResendCount.Load())},
		{"Ok timeouts", uitoa(r.conn.OkTimeoutCount.Load())},
		{"Tokens dropped", uitoa(r.conn.TokenDropCount.Load())},
	}
}

// run drives the job over rw until the session ends, then stops the
// connection. The metrics endpoint and the configuration watcher live as
// long as the job.
func (j *job) run(ctx context.Context, rw io.ReadWriteCloser) (*jobResult, error) {
	pc, err := j.cfg.Host.PrinterConfig(j.logger)
	if err != nil {
		return nil, err
	}
	conn, err := printer.NewConn(rw, pc)
	if err != nil {
		return nil, err
	}

	settings, err := j.cfg.Flow.Settings()
	if err != nil {
		return nil, err
	}
	ctrl, err := flow.NewController(conn,
		flow.WithSettings(settings),
		flow.WithReporter(flow.NewLogReporter(j.logger)),
		flow.WithLogger(j.logger),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	if j.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if err := metrics.NewCollector(ctrl.Statistics(), conn.Metrics(), conn).Register(reg); err != nil {
			return nil, err
		}
		srv := metrics.NewServer(j.cfg.Metrics.Listen, reg, j.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				j.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if j.watchPath != "" {
		watcher, err := config.NewWatcher(j.watchPath, config.WithWatchLogger(j.logger))
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := watcher.Run(ctx, func(c *config.Config) {
				s, err := c.Flow.Settings()
				if err != nil {
					j.logger.Warn("flow settings rejected", "error", err)
					return
				}
				ctrl.ApplySettings(s)
			})
			if err != nil {
				j.logger.Warn("configuration watcher stopped", "error", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx, ctrl) }()

	start := time.Now()
	res := &jobResult{session: flow.PrintingSession, conn: conn.Metrics()}
	if j.transfer != "" {
		res.session = flow.StreamingSession
		res.err = conn.Transfer(ctx, j.transfer, j.source)
	} else {
		res.err = conn.Print(ctx, j.source)
	}
	res.elapsed = time.Since(start)
	res.counters = ctrl.Statistics().Snapshot()

	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, printer.ErrConnClosed) && res.err == nil {
		res.err = err
	}
	// Run has returned, so the receive goroutine is gone
	res.profile = ctrl.Profile()

	return res, nil
}
