package logger

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRFC3339Millis(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 123_456_789, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-03-05T06:08:09.123Z", formatRFC3339Millis(ts))
}

func TestNewWithWriter_DropsEmptyStrings(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, slog.LevelInfo, true)
	log.Info("deposit recorded", "participant", "alice", "note", "")
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "deposit recorded")
	assert.Contains(t, out, "alice")
	assert.NotContains(t, out, "note")
	assert.NotContains(t, out, "hidden")
	assert.NotContains(t, out, "\x1b[", "no color codes when disabled")
}

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, slog.LevelWarn, true)
	log.Info("reward distributed")
	log.Warn("reward deposited into empty period")

	out := buf.String()
	assert.NotContains(t, out, "reward distributed")
	assert.Contains(t, out, "empty period")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		want    slog.Level
	}{
		{"", false, slog.LevelInfo},
		{"debug", false, slog.LevelDebug},
		{"WARN", false, slog.LevelWarn},
		{" error ", false, slog.LevelError},
		{"error", true, slog.LevelDebug},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name, tt.verbose)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := ParseLevel("loud", false)
	assert.Error(t, err)
}
