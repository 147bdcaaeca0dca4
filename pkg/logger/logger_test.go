package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingBeforeInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Debug("debug %d", 1)
		Info("info %s", "x")
		Warn("warn")
		Error("error: %v", assert.AnError)
	})
}

func TestInitUpgradesLoggers(t *testing.T) {
	require.NoError(t, Init())
	assert.NotNil(t, InfoLogger)
	assert.NotNil(t, FatalLogger)
	assert.NotPanics(t, func() { Info("after init") })
}
