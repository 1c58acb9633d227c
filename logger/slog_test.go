package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWithOptions(&buf, InfoLevel, JSONFormat, false)

	l.Debug("hidden", "k", 1)
	assert.Zero(t, buf.Len())

	l.With("port", "/dev/ttyUSB0").Info("buffer sizes detected", "planner", 16, "command", 4)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "buffer sizes detected", rec["msg"])
	assert.Equal(t, "/dev/ttyUSB0", rec["port"])
	assert.EqualValues(t, 16, rec["planner"])
	assert.Contains(t, rec, "ts")
	assert.NotContains(t, rec, "time")
}

func TestSlogLogger_SetLevelSharedWithChild(t *testing.T) {
	var buf bytes.Buffer
	parent := NewSlogWithOptions(&buf, InfoLevel, JSONFormat, false)
	child := parent.With("component", "flow")

	parent.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.Level())

	child.Debug("inflight", "n", 3)
	assert.Contains(t, buf.String(), "inflight")
}

func TestSlogLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWithOptions(&buf, WarnLevel, TextFormat, false)

	l.Info("dropped")
	l.Warn("inflight clamped", "raw", -2)

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "inflight clamped")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"Warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, "UNKNOWN", got.String())
		})
	}
}
