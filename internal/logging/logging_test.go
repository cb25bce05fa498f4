package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerLevelsAndKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, LevelInfo).With("sync")

	l.Debug("hidden")
	l.Info("reconcile finished", "owner", 7, "title", "Team Sync")
	l.Error("store failed", "err", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `[INFO] sync: reconcile finished owner=7 title="Team Sync"`)
	assert.Contains(t, out, "[ERROR] sync: store failed err=boom")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Error("nothing")
	l.Printf("cron %s", "tick")
	assert.NoError(t, l.Close())
}
