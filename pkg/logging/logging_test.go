package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/dappd/pkg/config"
)

func TestConfigureLevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dappd.log")
	logger, err := Configure(New("test"), config.LoggingConfig{Level: "WARN", FilePath: path})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	logger.Warn().Msg("visible")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible")
	assert.False(t, strings.Contains(string(data), "hidden"))
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	_, err := Configure(New("test"), config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}

func TestRollingFileRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roll.log")
	rf, err := newRollingFile(path, 1)
	require.NoError(t, err)
	chunk := make([]byte, 700*1024)
	_, err = rf.Write(chunk)
	require.NoError(t, err)
	_, err = rf.Write(chunk)
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestNewWriterTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "bridge")
	logger.Info().Str("socket", "s.sock").Msg("relaying")
	out := buf.String()
	assert.Contains(t, out, "bridge")
	assert.Contains(t, out, "relaying")
	assert.Contains(t, out, "s.sock")
}
