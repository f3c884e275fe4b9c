package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	t.Parallel()

	t.Run("missing file is an error", func(t *testing.T) {
		t.Parallel()
		store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
		_, err := store.Load()
		assert.Error(t, err)
	})

	t.Run("save then load round trips", func(t *testing.T) {
		t.Parallel()
		store := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))

		in := Settings{
			WanderThreshold: 0.0042,
			JitterThreshold: 0.0007,
			Links: []LinkSettings{
				{WanderSensitivity: 0.15, JitterSensitivity: 0.20},
				{WanderSensitivity: 0.3, JitterSensitivity: 0.25},
			},
		}
		require.NoError(t, store.Save(in))

		out, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("save replaces the previous file", func(t *testing.T) {
		t.Parallel()
		store := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))

		require.NoError(t, store.Save(Settings{WanderThreshold: 1}))
		require.NoError(t, store.Save(Settings{WanderThreshold: 2}))

		out, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, 2.0, out.WanderThreshold)
	})

	t.Run("save leaves no temp file behind", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		store := NewFileStore(filepath.Join(dir, "settings.json"))
		require.NoError(t, store.Save(Settings{}))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "settings.json", entries[0].Name())
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "settings.json")
		require.NoError(t, os.WriteFile(path, []byte("{nope"), 0644))

		_, err := NewFileStore(path).Load()
		assert.Error(t, err)
	})
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	s := Defaults(3)
	assert.Equal(t, 0.0, s.WanderThreshold, "factory state is uncalibrated")
	assert.Equal(t, 0.0, s.JitterThreshold)
	require.Len(t, s.Links, 3)
	for _, l := range s.Links {
		assert.Equal(t, DefaultWanderSensitivity, l.WanderSensitivity)
		assert.Equal(t, DefaultJitterSensitivity, l.JitterSensitivity)
	}
}
