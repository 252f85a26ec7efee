package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_ProductionWritesJSON(t *testing.T) {
	orig := log.Logger
	defer func() { log.Logger = orig }()

	var buf bytes.Buffer
	require.NoError(t, Init(Options{Environment: Production, Writer: &buf}))

	Debug().Msg("hidden")
	l := Component("pipeline")
	l.Info().Int("records", 3).Msg("pipeline: done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "pipeline", line["component"])
	assert.Equal(t, "pipeline: done", line["message"])
	assert.EqualValues(t, 3, line["records"])
}

func TestInit_LevelOverride(t *testing.T) {
	orig := log.Logger
	defer func() { log.Logger = orig }()

	var buf bytes.Buffer
	require.NoError(t, Init(Options{Environment: Development, Level: "warn", Writer: &buf}))
	Info().Msg("quiet")
	assert.Empty(t, buf.String())
	Warn().Msg("loud")
	assert.Contains(t, buf.String(), "loud")

	assert.Error(t, Init(Options{Level: "chatty"}))
}

func TestParseEnvironment(t *testing.T) {
	for in, want := range map[string]Environment{"": Development, "dev": Development, "PRODUCTION": Production, "prod": Production} {
		got, err := ParseEnvironment(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseEnvironment("staging")
	assert.Error(t, err)
}
