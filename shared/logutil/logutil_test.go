package logutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurePersistentLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, ConfigurePersistentLogging(path, "json"))

	logrus.Info("snapshot build started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "snapshot build started")
}

func TestConfigurePersistentLogging_UnknownFormat(t *testing.T) {
	err := ConfigurePersistentLogging(filepath.Join(t.TempDir(), "run.log"), "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log file format")
}
