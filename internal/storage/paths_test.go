package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaths(t *testing.T) {
	tests := []struct {
		name   string
		envVar string
	}{
		{name: "with LEARNINGPATHS_HOME", envVar: "/custom/learningpaths"},
		{name: "without LEARNINGPATHS_HOME", envVar: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LEARNINGPATHS_HOME", tt.envVar)

			paths, err := NewPaths()
			require.NoError(t, err)
			assert.NotNil(t, paths)

			if tt.envVar != "" {
				assert.Equal(t, tt.envVar, paths.BaseDir())
			} else {
				assert.Contains(t, paths.BaseDir(), ".learningpaths")
			}

			assert.Equal(t, filepath.Join(paths.BaseDir(), "db"), paths.DBDir())
			assert.Equal(t, filepath.Join(paths.BaseDir(), "images"), paths.ImagesDir())
			assert.Equal(t, filepath.Join(paths.BaseDir(), "daemon"), paths.DaemonDir())
			assert.Equal(t, filepath.Join(paths.BaseDir(), "logs"), paths.LogsDir())
			assert.NotEmpty(t, paths.ConfigDir())
		})
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("LEARNINGPATHS_CONFIG", "/custom/config")
	dir, err := getConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/custom/config", dir)

	t.Setenv("LEARNINGPATHS_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	dir, err = getConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg", "learningpaths"), dir)
}

func TestInitializeAndDiskUsage(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("LEARNINGPATHS_CONFIG", filepath.Join(tmpDir, "config"))

	paths, err := NewPathsAt(tmpDir)
	require.NoError(t, err)
	require.NoError(t, paths.Initialize())

	for _, dir := range []string{paths.DBDir(), paths.ImagesDir(), paths.DaemonDir(), paths.LogsDir(), paths.ConfigDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	upload := "learning_paths/images/demo_abcdef12.png"
	require.NoError(t, os.MkdirAll(filepath.Dir(paths.ImagePath(upload)), 0755))
	require.NoError(t, os.WriteFile(paths.ImagePath(upload), make([]byte, 100), 0644))
	require.NoError(t, os.WriteFile(paths.DBPath(), make([]byte, 50), 0644))

	usage := paths.GetDiskUsage()
	assert.Equal(t, int64(100), usage.Images)
	assert.Equal(t, int64(50), usage.Database)
	assert.Equal(t, int64(150), usage.Total)

	require.NoError(t, paths.RemoveImage(upload))
	assert.NoFileExists(t, paths.ImagePath(upload))
	assert.NoError(t, paths.RemoveImage(upload))
	assert.NoError(t, paths.RemoveImage(""))
}
