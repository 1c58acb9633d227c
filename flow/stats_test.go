package flow

import (
	"testing"

	"github.com/arloliu/go-ackflow/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestStatistics_SnapshotAndReset(t *testing.T) {
	var s Statistics
	s.TokensReleased.Add(3)
	s.AcksProcessed.Add(10)
	s.recordUnderrun(UnderrunCommand | UnderrunPlanner)
	s.recordUnderrun(UnderrunPlanner)
	s.recordUnderrun(UnderrunNone)

	assert.Equal(t, Counters{
		CommandUnderruns: 1,
		PlannerUnderruns: 2,
		TokensReleased:   3,
		AcksProcessed:    10,
	}, s.Snapshot())

	s.Reset()
	assert.Equal(t, Counters{}, s.Snapshot())
	s.Reset()
	assert.Equal(t, Counters{}, s.Snapshot())
}

func TestSummary_Failed(t *testing.T) {
	assert.True(t, Summary{Event: EventPrintFailed}.Failed())
	assert.True(t, Summary{Event: EventTransferFailed}.Failed())
	assert.False(t, Summary{Event: EventPrintDone}.Failed())
}

func TestLogReporter(t *testing.T) {
	m := logger.NewMockLogger()
	m.On("Info", "flow status", mock.Anything).Once()
	m.On("Debug", "flow metrics", mock.Anything).Once()
	m.On("Info", "flow session summary", mock.Anything).Once()
	m.On("Info", "flow state", mock.Anything).Once()

	r := NewLogReporter(m)
	r.EmitStatus(StatusReady)
	r.EmitMetrics(Metrics{CurrentLine: 4})
	r.EmitSummary(Summary{Session: PrintingSession, Event: EventPrintDone})
	r.EmitState(State{Session: IdleSession})

	m.AssertExpectations(t)
	assert.NotNil(t, NewLogReporter(nil).logger)
}
