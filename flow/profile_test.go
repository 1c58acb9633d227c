package flow

import (
	"fmt"
	"testing"

	"github.com/arloliu/go-ackflow/ack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fmtAck(line uint64, plannerAvail, commandAvail uint32) string {
	return fmt.Sprintf("ok N%d P%d B%d", line, plannerAvail, commandAvail)
}

func TestBufferProfile_Discover(t *testing.T) {
	var p BufferProfile
	assert.False(t, p.Discovered())
	assert.Zero(t, p.InflightTarget(DefaultInflightCap))

	ok := p.Discover(ack.Info{Line: 0, HasLine: true, PlannerAvail: 3, CommandAvail: 15})
	require.True(t, ok)
	assert.Equal(t, BufferProfile{PlannerCapacity: 4, CommandCapacity: 16}, p)
	assert.True(t, p.Discovered())

	// a second handshake in the same session is a no-op
	ok = p.Discover(ack.Info{Line: 0, HasLine: true, PlannerAvail: 7, CommandAvail: 31})
	assert.False(t, ok)
	assert.Equal(t, BufferProfile{PlannerCapacity: 4, CommandCapacity: 16}, p)

	p.Reset()
	assert.False(t, p.Discovered())
	assert.True(t, p.Discover(ack.Info{Line: 0, HasLine: true, PlannerAvail: 7, CommandAvail: 31}))
	assert.Equal(t, BufferProfile{PlannerCapacity: 8, CommandCapacity: 32}, p)
}

func TestBufferProfile_DiscoverIgnoresNonHandshake(t *testing.T) {
	var p BufferProfile

	assert.False(t, p.Discover(ack.Info{Line: 3, HasLine: true, PlannerAvail: 3, CommandAvail: 15}))
	assert.False(t, p.Discover(ack.Info{PlannerAvail: 3, CommandAvail: 15}))
	assert.False(t, p.Discovered())
}

func TestBufferProfile_InflightTarget(t *testing.T) {
	tests := []struct {
		name      string
		capacity  uint32
		policyCap uint32
		want      uint32
	}{
		{"capacity bound", 16, 45, 15},
		{"policy bound", 64, 45, 45},
		{"tiny buffer", 2, 45, 1},
		{"equal", 46, 45, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BufferProfile{PlannerCapacity: 16, CommandCapacity: tt.capacity}
			assert.Equal(t, tt.want, p.InflightTarget(tt.policyCap))
		})
	}
}

func TestComputeInflight(t *testing.T) {
	tests := []struct {
		name        string
		latestSent  uint64
		acked       uint64
		pending     int
		want        uint32
		wantClamped bool
	}{
		{"in sync", 10, 10, 0, 0, false},
		{"window", 15, 10, 0, 5, false},
		{"pending grant counts", 15, 10, 1, 6, false},
		{"negative clamped", 8, 10, 0, 0, true},
		{"pending rescues regression", 9, 10, 1, 0, false},
		{"negative pending ignored", 12, 10, -3, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clamped := ComputeInflight(tt.latestSent, tt.acked, tt.pending)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}
