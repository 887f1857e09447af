package logging

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToInfoOnInvalidLevel(t *testing.T) {
	log := New(Options{Level: "not-a-level", Console: true})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNewUsesJSONFormatterWhenLoggingToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runixd.log")
	log := New(Options{Level: "info", File: path, Console: false})

	_, ok := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	log.Info("hello")
	require.FileExists(t, path)
}

func TestNewUsesTextFormatterForConsoleOnly(t *testing.T) {
	log := New(Options{Level: "info", Console: true})
	_, ok := log.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestForComponentTagsEntry(t *testing.T) {
	log := New(Options{Level: "info", Console: true})
	entry := ForComponent(log, "router")
	assert.Equal(t, "router", entry.Data["component"])
}
