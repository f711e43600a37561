package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultBaseDir(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		expected string
	}{
		{
			name:     "with environment variable",
			envVar:   "/custom/path",
			expected: "/custom/path",
		},
		{
			name:   "without environment variable",
			envVar: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LEARNINGPATHS_HOME", tt.envVar)
			result := getDefaultBaseDir()

			if tt.envVar != "" {
				assert.Equal(t, tt.expected, result)
			} else {
				assert.Contains(t, result, ".learningpaths")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home := os.Getenv("HOME")
	if home == "" {
		home = os.Getenv("USERPROFILE") // Windows
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "expand tilde",
			input:    "~/test",
			expected: filepath.Join(home, "test"),
		},
		{
			name:     "expand environment variable",
			input:    "$HOME/test",
			expected: filepath.Join(home, "test"),
		},
		{
			name:     "no expansion needed",
			input:    "/absolute/path",
			expected: "/absolute/path",
		},
		{
			name:     "empty path",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandPath(tt.input))
		})
	}
}

func TestExpandPathsLeavesURLs(t *testing.T) {
	c := &Config{
		Storage:  StorageConfig{BaseDir: "~/lp"},
		Database: DatabaseConfig{DSN: "postgres://user@localhost/lp?sslmode=disable"},
	}
	expandPaths(c)
	assert.NotContains(t, c.Storage.BaseDir, "~")
	assert.Equal(t, "postgres://user@localhost/lp?sslmode=disable", c.Database.DSN)
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.NotEmpty(t, v.Get("storage.base_dir"))
	assert.Empty(t, v.GetString("database.dsn"))

	assert.Equal(t, "127.0.0.1", v.GetString("daemon.host"))
	assert.Equal(t, 8737, v.GetInt("daemon.port"))

	assert.Equal(t, "learningpaths", v.GetString("auth.issuer"))
	assert.Equal(t, 24*time.Hour, v.GetDuration("auth.token_ttl"))

	assert.False(t, v.GetBool("enrollment.allow_self_unenrollment"))

	assert.False(t, v.GetBool("milestones.prerequisites_enabled"))
	assert.Equal(t, MilestoneModeAsync, v.GetString("milestones.mode"))
	assert.Equal(t, 3, v.GetInt("milestones.max_retries"))

	assert.True(t, v.GetBool("rate_limit.enabled"))
	assert.Equal(t, 40, v.GetInt("rate_limit.burst"))

	assert.True(t, v.GetBool("ui.progress_bar"))
	assert.Equal(t, "text", v.GetString("ui.output_format"))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Daemon:     DaemonConfig{Port: 8737},
			Milestones: MilestonesConfig{Mode: MilestoneModeSync},
			RateLimit:  RateLimitConfig{Enabled: true, RequestsPerSecond: 1},
		}
	}
	assert.NoError(t, valid().Validate())

	c := valid()
	c.Milestones.Mode = "later"
	assert.Error(t, c.Validate())

	c = valid()
	c.Milestones.MaxRetries = -1
	assert.Error(t, c.Validate())

	c = valid()
	c.Daemon.Port = 70000
	assert.Error(t, c.Validate())

	c = valid()
	c.RateLimit.RequestsPerSecond = 0
	assert.Error(t, c.Validate())
	c.RateLimit.Enabled = false
	assert.NoError(t, c.Validate())
}

func TestInitialize(t *testing.T) {
	originalCfg := cfg
	originalV := v
	defer func() {
		cfg = originalCfg
		v = originalV
	}()

	cfg = nil
	v = nil
	t.Setenv("LEARNINGPATHS_HOME", t.TempDir())
	t.Setenv("LEARNINGPATHS_ENROLLMENT_ALLOW_SELF_UNENROLLMENT", "true")
	t.Setenv("LEARNINGPATHS_DAEMON_PORT", "9000")

	require.NoError(t, Initialize())
	assert.NotNil(t, cfg)
	assert.NotNil(t, v)
	assert.NotEmpty(t, cfg.Storage.BaseDir)
	assert.True(t, cfg.Enrollment.AllowSelfUnenrollment)
	assert.Equal(t, 9000, cfg.Daemon.Port)

	require.NoError(t, Set("milestones.mode", MilestoneModeSync))
	assert.Equal(t, MilestoneModeSync, Get().Milestones.Mode)

	assert.Error(t, Set("milestones.mode", "never"))
	assert.Equal(t, MilestoneModeSync, Get().Milestones.Mode, "invalid values keep the previous config")
}

func TestGet(t *testing.T) {
	originalCfg := cfg
	defer func() {
		cfg = originalCfg
	}()

	cfg = nil
	assert.Panics(t, func() {
		Get()
	})

	cfg = &Config{}
	assert.Equal(t, cfg, Get())
}

func TestGetViper(t *testing.T) {
	originalV := v
	defer func() {
		v = originalV
	}()

	v = nil
	assert.Panics(t, func() {
		GetViper()
	})

	v = viper.New()
	assert.Equal(t, v, GetViper())
}

func TestConfigWithFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
storage:
  base_dir: /custom/base
daemon:
  port: 9100
milestones:
  mode: sync
  max_retries: 5
enrollment:
  allow_self_unenrollment: true
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	originalCfg := cfg
	originalV := v
	defer func() {
		cfg = originalCfg
		v = originalV
	}()

	v = viper.New()
	v.SetConfigFile(configFile)
	setDefaults(v)
	require.NoError(t, v.ReadInConfig())
	require.NoError(t, load())

	assert.Equal(t, "/custom/base", cfg.Storage.BaseDir)
	assert.Equal(t, 9100, cfg.Daemon.Port)
	assert.Equal(t, MilestoneModeSync, cfg.Milestones.Mode)
	assert.Equal(t, 5, cfg.Milestones.MaxRetries)
	assert.True(t, cfg.Enrollment.AllowSelfUnenrollment)

	// Defaults remain for values the file does not set
	assert.Equal(t, "learningpaths", cfg.Auth.Issuer)
	assert.Equal(t, 2*time.Second, cfg.Milestones.RetryDelay)

	saved := filepath.Join(tempDir, "nested", "saved.yaml")
	require.NoError(t, SaveConfig(saved))
	assert.FileExists(t, saved)
}
