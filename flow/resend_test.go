package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResendGuard_EpisodeEdges(t *testing.T) {
	var g ResendGuard

	assert.Equal(t, ResendUnchanged, g.Observe(false, PrintingSession))
	assert.False(t, g.Active())

	assert.Equal(t, ResendStarted, g.Observe(true, PrintingSession))
	assert.True(t, g.Active())
	assert.True(t, g.NeedsThrottle())

	// level stays asserted, no new episode
	for i := 0; i < 5; i++ {
		assert.Equal(t, ResendUnchanged, g.Observe(true, PrintingSession))
	}

	assert.Equal(t, ResendEnded, g.Observe(false, PrintingSession))
	assert.False(t, g.Active())
	assert.False(t, g.NeedsThrottle())
}

func TestResendGuard_ThrottleOncePerEpisode(t *testing.T) {
	var g ResendGuard

	assert.False(t, g.Throttle(PrintingSession, 15), "no episode running")

	g.Observe(true, PrintingSession)
	require.True(t, g.Throttle(PrintingSession, 15))
	assert.True(t, g.ThrottleApplied())
	assert.False(t, g.Throttle(PrintingSession, 15))
}

func TestResendGuard_InteractiveMargin(t *testing.T) {
	var g ResendGuard

	assert.Equal(t, uint32(15), g.Target(PrintingSession, 15))

	// the target is left alone during the episode
	g.Observe(true, PrintingSession)
	g.Throttle(PrintingSession, 15)
	assert.Equal(t, uint32(15), g.Target(PrintingSession, 15))

	g.Observe(false, PrintingSession)
	assert.Equal(t, uint32(14), g.Target(PrintingSession, 15))

	g.Observe(true, PrintingSession)
	g.Throttle(PrintingSession, 14)
	g.Observe(false, PrintingSession)
	assert.Equal(t, uint32(13), g.Target(PrintingSession, 15))

	// an episode whose back-off never applied leaves no margin
	g.Observe(true, PrintingSession)
	g.Observe(false, PrintingSession)
	assert.Equal(t, uint32(13), g.Target(PrintingSession, 15))
}

func TestResendGuard_InteractiveMarginFloor(t *testing.T) {
	var g ResendGuard

	for i := 0; i < 20; i++ {
		g.Observe(true, PrintingSession)
		g.Throttle(PrintingSession, g.Target(PrintingSession, 5))
		g.Observe(false, PrintingSession)
	}

	assert.Equal(t, uint32(MinInflightTarget), g.Target(PrintingSession, 5))
	assert.Equal(t, uint32(1), g.Target(PrintingSession, 1), "never raised above the base")
	assert.Zero(t, g.Target(PrintingSession, 0), "undiscovered stays zero")
}

func TestResendGuard_StreamingReduction(t *testing.T) {
	var g ResendGuard

	g.Observe(true, StreamingSession)
	require.True(t, g.Throttle(StreamingSession, 30))
	assert.Equal(t, uint32(20), g.Target(StreamingSession, 30))

	// the reduced target is kept after the episode
	g.Observe(false, StreamingSession)
	assert.Equal(t, uint32(20), g.Target(StreamingSession, 30))

	g.Observe(true, StreamingSession)
	g.Throttle(StreamingSession, g.Target(StreamingSession, 30))
	assert.Equal(t, uint32(10), g.Target(StreamingSession, 30))

	for i := 0; i < 3; i++ {
		g.Observe(false, StreamingSession)
		g.Observe(true, StreamingSession)
		g.Throttle(StreamingSession, g.Target(StreamingSession, 30))
	}
	assert.Equal(t, uint32(MinInflightTarget), g.Target(StreamingSession, 30))

	g.Reset()
	assert.Equal(t, uint32(30), g.Target(StreamingSession, 30))
	assert.False(t, g.Active())
}

func TestResendGuard_StreamingDefaultCapFloors(t *testing.T) {
	var g ResendGuard

	g.Observe(true, StreamingSession)
	g.Throttle(StreamingSession, DefaultStreamingInflightCap)
	assert.Equal(t, uint32(MinInflightTarget), g.Target(StreamingSession, DefaultStreamingInflightCap))
}

func TestResendGuard_ShouldWithhold(t *testing.T) {
	var g ResendGuard
	assert.False(t, g.ShouldWithhold(10, 15), "no episode")

	g.Observe(true, PrintingSession)
	tests := []struct {
		inflight uint32
		target   uint32
		want     bool
	}{
		{8, 15, true},
		{7, 15, false},
		{8, 16, false},
		{9, 16, true},
		{1, 0, true},
		{0, 0, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, g.ShouldWithhold(tt.inflight, tt.target), "inflight=%d target=%d", tt.inflight, tt.target)
	}
}

func TestReduceTarget(t *testing.T) {
	assert.Equal(t, uint32(20), reduceTarget(30, 10))
	assert.Equal(t, uint32(2), reduceTarget(12, 10))
	assert.Equal(t, uint32(2), reduceTarget(10, 10))
	assert.Equal(t, uint32(2), reduceTarget(4, 10))
	assert.Equal(t, uint32(1), reduceTarget(1, 10))
	assert.Equal(t, uint32(0), reduceTarget(0, 10))
	assert.Equal(t, uint32(7), reduceTarget(7, 0))
}
