package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"", "dev", ModeDevelopment, "prod", ModeProduction} {
		t.Run(mode, func(t *testing.T) {
			l, err := New(mode, Options{})
			require.NoError(t, err)
			require.NotNil(t, l.SugaredLogger)
		})
	}
	_, err := New("verbose", Options{})
	assert.Error(t, err)
}

func TestNewWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Logs", "expflow.log")
	l, err := New(ModeProduction, Options{LogFile: path})
	require.NoError(t, err)

	l.Info("experiment created", "experiment_id", "stroop")
	l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "experiment created")
	assert.Contains(t, string(data), "stroop")
}

func observed(redact bool) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar(), redact: redact}, logs
}

func TestRedaction(t *testing.T) {
	l, logs := observed(true)
	l.Warn("loaded", "participant_id", "p001", "dob", "1990-01-01", "experiment_id", "stroop")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.True(t, strings.HasPrefix(fields["participant_id"].(string), "hash:"))
	assert.Equal(t, "[REDACTED]", fields["dob"])
	assert.Equal(t, "stroop", fields["experiment_id"])
}

func TestNoRedactionByDefault(t *testing.T) {
	l, logs := observed(false)
	l.With("participant_id", "p001").Info("saved")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "p001", logs.All()[0].ContextMap()["participant_id"])
}

func TestNopAndFromZap(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Error("ignored", "k", "v")
		FromZap(nil).Info("ignored")
		FromZap(zap.NewNop()).Debug("ignored")
	})
}

func TestLevels(t *testing.T) {
	l, logs := observed(true)
	child := l.With("gender", "f")
	child.Debug("d")
	child.Info("i")
	child.Warn("w")
	child.Error("e")

	entries := logs.All()
	require.Len(t, entries, 4)
	var levels []string
	for _, e := range entries {
		levels = append(levels, e.Level.String())
		assert.Equal(t, "[REDACTED]", e.ContextMap()["gender"], "child keeps redaction")
	}
	assert.Equal(t, []string{"debug", "info", "warn", "error"}, levels)
}
