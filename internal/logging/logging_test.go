package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Level(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	c, err := Setup(Options{Level: "debug"})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	_, err = Setup(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestSetup_File(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "steadytls.log")
	c, err := Setup(Options{Level: "info", File: path, JSON: true})
	require.NoError(t, err)

	log.WithField("vu", 1).Info("hello")
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"vu":1`)
}
