package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arloliu/go-ackflow/flow"
	"github.com/arloliu/go-ackflow/logger"
	"github.com/arloliu/go-ackflow/printer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	line    uint64
	depth   int
	pending int
	resend  bool
}

func (h *fakeHost) CurrentLine() uint64 { return h.line }
func (h *fakeHost) QueueDepth() int     { return h.depth }
func (h *fakeHost) PendingTokens() int  { return h.pending }
func (h *fakeHost) ResendActive() bool  { return h.resend }

func gatherValues(t *testing.T, g prometheus.Gatherer) map[string]float64 {
	t.Helper()

	families, err := g.Gather()
	require.NoError(t, err)

	values := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	return values
}

func TestCollector_Values(t *testing.T) {
	var stats flow.Statistics
	var conn printer.ConnectionMetrics
	host := &fakeHost{line: 42, depth: 3, pending: 1, resend: true}

	stats.TokensReleased.Add(5)
	stats.CommandUnderruns.Add(2)
	conn.LineSendCount.Add(40)
	conn.LineResendCount.Add(4)
	conn.HistoryMissCount.Add(1)

	reg := prometheus.NewRegistry()
	c := NewCollector(&stats, &conn, host)
	require.NoError(t, c.Register(reg))

	values := gatherValues(t, reg)
	assert.Equal(t, 5.0, values["ackflow_flow_tokens_released"])
	assert.Equal(t, 2.0, values["ackflow_flow_command_underruns"])
	assert.Equal(t, 0.0, values["ackflow_flow_resends_detected"])
	assert.Equal(t, 40.0, values["ackflow_line_sent_total"])
	assert.Equal(t, 4.0, values["ackflow_line_resent_total"])
	assert.Equal(t, 1.0, values["ackflow_resend_history_misses_total"])
	assert.Equal(t, 42.0, values["ackflow_host_current_line"])
	assert.Equal(t, 3.0, values["ackflow_host_queue_depth"])
	assert.Equal(t, 1.0, values["ackflow_host_pending_tokens"])
	assert.Equal(t, 1.0, values["ackflow_host_resend_active"])

	// values are read at scrape time
	stats.Reset()
	host.resend = false
	host.line = 43
	values = gatherValues(t, reg)
	assert.Equal(t, 0.0, values["ackflow_flow_tokens_released"])
	assert.Equal(t, 0.0, values["ackflow_host_resend_active"])
	assert.Equal(t, 43.0, values["ackflow_host_current_line"])
}

func TestCollector_Partial(t *testing.T) {
	var conn printer.ConnectionMetrics

	assert.Equal(t, 7, testutil.CollectAndCount(NewCollector(&flow.Statistics{}, nil, nil)))
	assert.Equal(t, 11, testutil.CollectAndCount(NewCollector(nil, &conn, nil)))
	assert.Equal(t, 4, testutil.CollectAndCount(NewCollector(nil, nil, &fakeHost{})))
	assert.Equal(t, 0, testutil.CollectAndCount(NewCollector(nil, nil, nil)))
}

func TestCollector_Register(t *testing.T) {
	c := NewCollector(&flow.Statistics{}, nil, nil)

	require.NoError(t, c.Register(nil))

	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))
	require.NoError(t, c.Register(reg), "registering twice is not an error")
	require.NoError(t, NewCollector(&flow.Statistics{}, nil, nil).Register(reg))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestServer_Handler(t *testing.T) {
	var conn printer.ConnectionMetrics
	conn.OkRecvCount.Add(9)

	reg := prometheus.NewRegistry()
	require.NoError(t, NewCollector(nil, &conn, nil).Register(reg))

	srv := NewServer(":0", reg, logger.NewPermissiveMockLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ackflow_ok_received_total 9")
	assert.Contains(t, rec.Body.String(), "# TYPE ackflow_ok_received_total counter")
}

func TestServer_Serve(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewCollector(nil, nil, &fakeHost{line: 7}).Register(reg))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ln.Addr().String(), reg, logger.NewPermissiveMockLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Contains(t, string(body), "ackflow_host_current_line 7")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(ln.Addr().String(), nil, logger.NewPermissiveMockLogger())
	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: listen")
}
