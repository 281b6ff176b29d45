package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit_JSONOutputWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Msg("engine started")

	require.Contains(t, buf.String(), `"message":"engine started"`)
}

func TestWithComponent_TagsEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	WithComponent("storage").Warn().Msg("cache miss")

	require.True(t, strings.Contains(buf.String(), `"component":"storage"`))
}

func TestInit_LevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Msg("should be filtered")
	Logger.Warn().Msg("should appear")

	require.NotContains(t, buf.String(), "should be filtered")
	require.Contains(t, buf.String(), "should appear")
}
