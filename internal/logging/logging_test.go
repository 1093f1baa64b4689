package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "longcut.log")

	logger, err := New("info", path)
	require.NoError(t, err)

	logger.Debug("debug goes to file only")
	logger.Info("run started")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"run started"`)
	assert.Contains(t, string(data), "debug goes to file only")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", "")
	assert.Error(t, err)
}
