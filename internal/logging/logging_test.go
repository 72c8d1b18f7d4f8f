package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevelAndFormat(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
		log.SetOutput(os.Stderr)
	})

	closer, err := Setup(Options{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
}

func TestSetupRejectsBadOptions(t *testing.T) {
	_, err := Setup(Options{Level: "loud"})
	assert.Error(t, err, "unknown level")
	_, err = Setup(Options{Format: "xml"})
	assert.Error(t, err, "unknown format")
}

func TestSetupWritesToFile(t *testing.T) {
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	path := filepath.Join(t.TempDir(), "optimizer.log")

	closer, err := Setup(Options{File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	log.WithField("component", "test").Info("hello file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}
