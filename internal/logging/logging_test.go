package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLoggerWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", JSON: true, Output: &buf})
	log.Info().Str("k", "v").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["message"])
	require.Equal(t, "v", line["k"])
}

func TestNewDefaultsToInfoLevelOnUnknownLevelString(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "not-a-real-level", JSON: true, Output: &buf})
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewDebugLevelEnablesDebugLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", JSON: true, Output: &buf})
	log.Debug().Msg("visible")
	require.Contains(t, buf.String(), "visible")
}

func TestNewWarnLevelSuppressesInfoLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", JSON: true, Output: &buf})
	log.Info().Msg("hidden")
	require.Empty(t, buf.String())
}

func TestComponentTagsSubLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "info", JSON: true, Output: &buf})
	sub := Component(base, "workflow-engine")
	sub.Info().Msg("tagged")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "workflow-engine", line["component"])
}
