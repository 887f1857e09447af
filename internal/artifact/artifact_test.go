package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteScreenshotCreatesDirAndCounts(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	w1, err := s.WriteScreenshot("sess-1", []byte("png-bytes-1"))
	require.NoError(t, err)
	w2, err := s.WriteScreenshot("sess-1", []byte("png-bytes-2"))
	require.NoError(t, err)

	assert.NotEqual(t, w1.Filename, w2.Filename)
	assert.FileExists(t, w1.Path)
	assert.FileExists(t, w2.Path)
	assert.Equal(t, filepath.Join(root, "sessions", "sess-1", "screenshots"), filepath.Dir(w1.Path))
}

func TestWriteFeatureFile(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	w, err := s.WriteFeatureFile("sess-1", "Feature: demo\n  Scenario: a\n")
	require.NoError(t, err)

	content, err := os.ReadFile(w.Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Feature: demo")
}

func TestWriteHistoryRoundTrips(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	type fakeSession struct {
		ID    string `json:"id"`
		Goal  string `json:"goal"`
		State string `json:"state"`
	}

	in := fakeSession{ID: "sess-1", Goal: "book a flight", State: "completed"}
	require.NoError(t, s.WriteHistory("sess-1", in))

	b, err := os.ReadFile(filepath.Join(s.SessionDir("sess-1"), historyFile))
	require.NoError(t, err)

	var out fakeSession
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestCountersAreIndependentPerSession(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	w1, err := s.WriteScreenshot("sess-a", []byte("x"))
	require.NoError(t, err)
	w2, err := s.WriteScreenshot("sess-b", []byte("x"))
	require.NoError(t, err)

	assert.Contains(t, w1.Filename, "-0001", "first write for a fresh session should start its own counter at 1")
	assert.Contains(t, w2.Filename, "-0001", "a different session's counter must not be shared with sess-a's")
}
