package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l, err := New(Config{Level: "chatty", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.False(t, l.Desugar().Core().Enabled(zap.DebugLevel))
	assert.True(t, l.Desugar().Core().Enabled(zap.InfoLevel))
}

func TestWithComponentAddsField(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := (&Logger{zap.New(core).Sugar()}).WithComponent("period")

	l.Infow("snapshot written", "key", "2024-3")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "period", fields["component"])
	assert.Equal(t, "2024-3", fields["key"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
