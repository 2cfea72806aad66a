package telemetry

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerDefaultsToInfoLevel(t *testing.T) {
	t.Setenv("RISKFORGE_DEBUG", "")
	logger := NewLogger("stopmonitor")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewLoggerHonorsDebugEnv(t *testing.T) {
	t.Setenv("RISKFORGE_DEBUG", "1")
	logger := NewLogger("stopmonitor")
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}

func TestNewLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("intent").Output(&buf)
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"intent"`)
}
