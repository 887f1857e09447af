package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvOverlaysOnBase(t *testing.T) {
	t.Setenv("RUNIX_DRIVER_DIR", "/a/drivers")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/tmp/runixd.log")
	t.Setenv("LOG_CONSOLE", "false")

	c := FromEnv(Default())

	assert.Equal(t, []string{"/a/drivers"}, c.DriverDirs)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "/tmp/runixd.log", c.LogFile)
	assert.False(t, c.LogConsole)
}

func TestFromEnvLeavesBaseUntouchedWhenUnset(t *testing.T) {
	base := Default()
	base.DriverDirs = []string{"/preset"}

	c := FromEnv(base)
	assert.Equal(t, []string{"/preset"}, c.DriverDirs)
	assert.Equal(t, base.LogLevel, c.LogLevel)
}

func TestValidateRequiresDriverDirs(t *testing.T) {
	c := Default()
	assert.Error(t, c.Validate())

	c.DriverDirs = []string{"/drivers"}
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := Default()
	c.DriverDirs = []string{"/drivers"}
	c.LogLevel = "verbose"
	assert.Error(t, c.Validate())
}

func TestParsePortRange(t *testing.T) {
	n, err := ParsePort("8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, n)

	_, err = ParsePort("80")
	assert.Error(t, err)

	_, err = ParsePort("70000")
	assert.Error(t, err)

	_, err = ParsePort("not-a-number")
	assert.Error(t, err)
}
