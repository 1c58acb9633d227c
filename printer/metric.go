package printer

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics of a printer connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// LineSendCount indicates the number of lines written, resends included.
	LineSendCount atomic.Uint64
	// LineResendCount indicates the number of lines written again on a resend request.
	LineResendCount atomic.Uint64
	// LineRecvCount indicates the number of non-empty lines received.
	LineRecvCount atomic.Uint64

	// OkRecvCount indicates the number of ok lines received.
	OkRecvCount atomic.Uint64
	// OkWithheldCount indicates the number of ok lines the controller consumed.
	OkWithheldCount atomic.Uint64
	// OkTimeoutCount indicates the number of tokens released because no ok arrived in time.
	OkTimeoutCount atomic.Uint64

	// TokenGrantCount indicates the number of extra tokens granted by the controller.
	TokenGrantCount atomic.Uint64
	// TokenDropCount indicates the number of tokens dropped because the gate was full.
	TokenDropCount atomic.Uint64
	// PrimeCount indicates the number of queue prime requests.
	PrimeCount atomic.Uint64

	// ResendRequestCount indicates the number of resend requests received.
	ResendRequestCount atomic.Uint64
	// HistoryMissCount indicates the number of resend requests for lines no longer kept.
	HistoryMissCount atomic.Uint64
}

func (m *ConnectionMetrics) incLineSendCount() {
	m.LineSendCount.Add(1)
}

func (m *ConnectionMetrics) incLineResendCount() {
	m.LineResendCount.Add(1)
}

func (m *ConnectionMetrics) incLineRecvCount() {
	m.LineRecvCount.Add(1)
}

func (m *ConnectionMetrics) incOkRecvCount() {
	m.OkRecvCount.Add(1)
}

func (m *ConnectionMetrics) incOkWithheldCount() {
	m.OkWithheldCount.Add(1)
}

func (m *ConnectionMetrics) incOkTimeoutCount() {
	m.OkTimeoutCount.Add(1)
}

func (m *ConnectionMetrics) incTokenGrantCount() {
	m.TokenGrantCount.Add(1)
}

func (m *ConnectionMetrics) incTokenDropCount() {
	m.TokenDropCount.Add(1)
}

func (m *ConnectionMetrics) incPrimeCount() {
	m.PrimeCount.Add(1)
}

func (m *ConnectionMetrics) incResendRequestCount() {
	m.ResendRequestCount.Add(1)
}

func (m *ConnectionMetrics) incHistoryMissCount() {
	m.HistoryMissCount.Add(1)
}
