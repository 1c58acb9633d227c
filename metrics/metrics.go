// Package metrics exports the pacing statistics of a flow.Controller and the
// counters of a printer.Conn as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-ackflow/flow"
	"github.com/arloliu/go-ackflow/logger"
	"github.com/arloliu/go-ackflow/printer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric.
const Namespace = "ackflow"

// Gauges is the part of the host state read on every scrape. It must be
// safe for concurrent use; *printer.Conn implements it.
type Gauges interface {
	CurrentLine() uint64
	QueueDepth() int
	PendingTokens() int
	ResendActive() bool
}

// Collector implements prometheus.Collector over live atomic counters. It
// owns no state; every value is read at scrape time.
type Collector struct {
	collectors []prometheus.Collector
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector. Any argument may be nil, its metrics are
// left out then.
func NewCollector(stats *flow.Statistics, conn *printer.ConnectionMetrics, host Gauges) *Collector {
	c := &Collector{}

	if stats != nil {
		c.flowMetrics(stats)
	}
	if conn != nil {
		c.connMetrics(conn)
	}
	if host != nil {
		c.hostMetrics(host)
	}

	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, col := range c.collectors {
		col.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, col := range c.collectors {
		col.Collect(ch)
	}
}

// Register registers c with reg. A nil reg is a no-op, and a collector
// registered before is not an error.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}

	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return fmt.Errorf("metrics: register collector: %w", err)
	}

	return nil
}

// flow statistics reset with every session, so they are exported as gauges.
func (c *Collector) flowMetrics(s *flow.Statistics) {
	c.gauge("flow", "command_underruns", "Acks of the running session that reported an empty command buffer.", loadU64(&s.CommandUnderruns))
	c.gauge("flow", "planner_underruns", "Acks of the running session that reported an empty planner buffer.", loadU64(&s.PlannerUnderruns))
	c.gauge("flow", "resends_detected", "Resend episodes of the running session.", loadU64(&s.ResendsDetected))
	c.gauge("flow", "tokens_released", "Extra send tokens granted in the running session.", loadU64(&s.TokensReleased))
	c.gauge("flow", "acks_processed", "Actionable acks of the running session.", loadU64(&s.AcksProcessed))
	c.gauge("flow", "acks_withheld", "Acks withheld to drain a resend episode in the running session.", loadU64(&s.AcksWithheld))
	c.gauge("flow", "inflight_anomalies", "Acks of the running session with a negative inflight window.", loadU64(&s.InflightAnomalies))
}

func (c *Collector) connMetrics(m *printer.ConnectionMetrics) {
	c.counter("line", "sent_total", "Lines written to the firmware, resends included.", loadU64(&m.LineSendCount))
	c.counter("line", "resent_total", "Lines written again on a resend request.", loadU64(&m.LineResendCount))
	c.counter("line", "received_total", "Non-empty lines received from the firmware.", loadU64(&m.LineRecvCount))
	c.counter("ok", "received_total", "Ok lines received.", loadU64(&m.OkRecvCount))
	c.counter("ok", "withheld_total", "Ok lines consumed by the controller.", loadU64(&m.OkWithheldCount))
	c.counter("ok", "timeout_total", "Send tokens released because no ok arrived in time.", loadU64(&m.OkTimeoutCount))
	c.counter("token", "granted_total", "Extra send tokens granted by the controller.", loadU64(&m.TokenGrantCount))
	c.counter("token", "dropped_total", "Send tokens dropped because the token gate was full.", loadU64(&m.TokenDropCount))
	c.counter("queue", "primed_total", "Outbound queue prime requests.", loadU64(&m.PrimeCount))
	c.counter("resend", "requests_total", "Resend requests received from the firmware.", loadU64(&m.ResendRequestCount))
	c.counter("resend", "history_misses_total", "Resend requests for lines no longer kept.", loadU64(&m.HistoryMissCount))
}

func (c *Collector) hostMetrics(h Gauges) {
	c.gauge("host", "current_line", "Line number of the last command sent.", func() float64 { return float64(h.CurrentLine()) })
	c.gauge("host", "queue_depth", "Commands waiting in the outbound queue.", func() float64 { return float64(h.QueueDepth()) })
	c.gauge("host", "pending_tokens", "Send tokens granted but not consumed.", func() float64 { return float64(h.PendingTokens()) })
	c.gauge("host", "resend_active", "1 while lines are retransmitted on a resend request.", func() float64 {
		if h.ResendActive() {
			return 1
		}
		return 0
	})
}

func (c *Collector) counter(subsystem, name, help string, fn func() float64) {
	c.collectors = append(c.collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func (c *Collector) gauge(subsystem, name, help string, fn func() float64) {
	c.collectors = append(c.collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func loadU64(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// Server serves the metrics of a gatherer over HTTP at /metrics.
type Server struct {
	srv    *http.Server
	logger logger.Logger
}

// NewServer creates a Server listening on addr. A nil gatherer selects
// prometheus.DefaultGatherer.
func NewServer(addr string, g prometheus.Gatherer, l logger.Logger) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if l == nil {
		l = logger.GetLogger()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: l,
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run listens and serves until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", s.srv.Addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("metrics server listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: serve: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics: shutdown: %w", err)
		}
		<-errCh

		return nil
	}
}
