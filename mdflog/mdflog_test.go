package mdflog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogfWithoutSinkIsSilent(t *testing.T) {
	SetSink(nil)
	Logf(LevelError, "dropped %d", 1) // must not panic
}

func TestLogfDeliversToSink(t *testing.T) {
	var gotLevel Level
	var gotMsg string
	SetSink(func(level Level, msg string) {
		gotLevel = level
		gotMsg = msg
	})
	defer SetSink(nil)

	Logf(LevelWarn, "queue depth %d", 42)
	assert.Equal(t, LevelWarn, gotLevel)
	assert.Equal(t, "queue depth 42", gotMsg)
}

func TestLevelStrings(t *testing.T) {
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "error", LevelError.String())
}
