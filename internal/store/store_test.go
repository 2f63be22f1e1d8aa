package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	sess := Session{
		URL:      "https://moodle.example.edu",
		Username: "teacher",
		Service:  "moodle_mobile_app",
		Token:    "tok-abc123",
		SiteName: "Example University",
	}
	require.NoError(t, s.Save(sess))

	loaded, ok := s.Load("https://moodle.example.edu")
	require.True(t, ok)
	assert.Equal(t, "teacher", loaded.Username)
	assert.Equal(t, "tok-abc123", loaded.Token)
	assert.WithinDuration(t, time.Now().UTC(), loaded.SavedAt, time.Minute)

	require.NoError(t, s.Delete("https://moodle.example.edu"))
	_, ok = s.Load("https://moodle.example.edu")
	assert.False(t, ok)
}

func TestSaveOverwrites(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(Session{URL: "https://lms.test", Username: "a", Token: "old"}))
	require.NoError(t, s.Save(Session{URL: "https://lms.test", Username: "a", Token: "new"}))

	loaded, ok := s.Load("https://lms.test")
	require.True(t, ok)
	assert.Equal(t, "new", loaded.Token)
}

func TestURLNormalization(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(Session{URL: "https://LMS.Test/", Token: "tok"}))

	// lookup is case- and trailing-slash-insensitive
	_, ok := s.Load("https://lms.test")
	assert.True(t, ok)
}

func TestLoadUnknownURL(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Load("https://nowhere.test")
	assert.False(t, ok)
}

func TestMemoryOnlyStore(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	// every operation succeeds, nothing persists
	assert.NoError(t, s.Save(Session{URL: "https://lms.test", Token: "tok"}))
	_, ok := s.Load("https://lms.test")
	assert.False(t, ok)
	assert.NoError(t, s.Delete("https://lms.test"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(Session{URL: "https://lms.test", Username: "a", Token: "tok"}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	loaded, ok := s.Load("https://lms.test")
	require.True(t, ok)
	assert.Equal(t, "tok", loaded.Token)
}
