package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learningpaths/learningpaths/internal/api"
	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/daemon"
)

// isolate points the CLI config at a temp directory
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LEARNINGPATHS_HOME", filepath.Join(dir, "home"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("LEARNINGPATHS_CONFIG", filepath.Join(dir, "xdg", "learningpaths"))
	return dir
}

// resetFlags restores flag defaults so one Execute does not leak into the next
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	defer resetFlags(rootCmd)

	var buf bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	err := rootCmd.Execute()
	return buf.String(), err
}

// TestCLIHelp tests the help command
func TestCLIHelp(t *testing.T) {
	isolate(t)
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name: "root help",
			args: []string{"--help"},
			expected: []string{
				"learningpaths manages learning paths",
				"Available Commands:",
				"daemon",
				"paths",
				"enroll",
				"groups",
				"skills",
				"config",
				"surface",
			},
		},
		{
			name:     "paths create help",
			args:     []string{"paths", "create", "--help"},
			expected: []string{"--name", "--level", "beginner, intermediate, advanced", "--invite-only"},
		},
		{
			name:     "enroll bulk help",
			args:     []string{"enroll", "bulk", "--help"},
			expected: []string{"pending enrollments", "--csv", "--paths", "--unenroll"},
		},
		{
			name:     "groups help",
			args:     []string{"groups", "--help"},
			expected: []string{"auto-enroll", "bulk-enroll", "sync", "assign"},
		},
		{
			name:     "admin help",
			args:     []string{"admin", "--help"},
			expected: []string{"first staff user", "create-user", "token"},
		},
		{
			name:     "daemon help",
			args:     []string{"daemon", "--help"},
			expected: []string{"start", "stop", "status", "restart"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)
			require.NoError(t, err)
			for _, expected := range tt.expected {
				assert.Contains(t, output, expected)
			}
		})
	}
}

func TestSurfaceCommand(t *testing.T) {
	isolate(t)

	output, err := execute(t, "surface")
	require.NoError(t, err)
	assert.Contains(t, output, "Learning Paths:")
	assert.Contains(t, output, "LEVEL_CHOICES")
	assert.Contains(t, output, "GroupCourseEnrollmentAudit")
	assert.Contains(t, output, "Total names: 14")

	output, err = execute(t, "surface", "LEVEL_CHOICES")
	require.NoError(t, err)
	assert.Contains(t, output, "LEVEL_CHOICES (Learning Paths, var)")

	output, err = execute(t, "surface", "--json")
	require.NoError(t, err)
	assert.Contains(t, output, `"groups"`)

	_, err = execute(t, "surface", "Course")
	assert.Error(t, err)
}

func TestConfigFileHandling(t *testing.T) {
	dir := isolate(t)
	configFile := filepath.Join(dir, "test-config.yaml")
	content := "daemon:\n  port: 9911\nmilestones:\n  mode: sync\n"
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	_, err := execute(t, "--config", configFile, "surface")
	require.NoError(t, err)
	assert.Equal(t, 9911, config.Get().Daemon.Port)
	assert.Equal(t, config.MilestoneModeSync, config.Get().Milestones.Mode)
	assert.Equal(t, "http://127.0.0.1:9911", getDaemonURL())

	output, err := execute(t, "--config", configFile, "--token", "secret-token", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, output, "daemon.port = 9911")
	assert.Contains(t, output, "token = ********")
	assert.NotContains(t, output, "secret-token")

	saved := filepath.Join(dir, "saved", "config.yaml")
	output, err = execute(t, "--config", configFile, "config", "save", saved)
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration saved to "+saved)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Contains(t, string(data), "9911")
}

func TestReadEmailsCSV(t *testing.T) {
	input := "email,name\nada@example.com,Ada\n\n grace@example.com ,Grace\n"
	emails, err := readEmailsCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com", "grace@example.com"}, emails)

	_, err = readEmailsCSV(strings.NewReader("ada@example.com\nnot-an-email\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCommandsWithoutDaemon(t *testing.T) {
	isolate(t)
	// Nothing listens on this port
	t.Setenv("LEARNINGPATHS_DAEMON_PORT", "1")

	_, err := execute(t, "paths", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "learningpaths daemon start")

	output, err := execute(t, "daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, output, "Daemon is not running")
}

func TestAdminBootstrap(t *testing.T) {
	isolate(t)

	output, err := execute(t, "admin", "create-user", "admin", "admin@example.com", "--staff")
	require.NoError(t, err)
	assert.Contains(t, output, "Created user admin")

	_, err = execute(t, "admin", "create-user", "admin", "other@example.com")
	assert.Error(t, err)

	_, err = execute(t, "admin", "create-user", "bad", "not-an-email")
	assert.Error(t, err)

	output, err = execute(t, "admin", "token", "admin")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(strings.TrimSpace(output), ".")), "expected a JWT")

	_, err = execute(t, "admin", "create-user", "learner", "learner@example.com")
	require.NoError(t, err)
	output, err = execute(t, "admin", "set-staff", "learner")
	require.NoError(t, err)
	assert.Contains(t, output, "User learner staff=true")
	output, err = execute(t, "admin", "set-staff", "learner", "--revoke")
	require.NoError(t, err)
	assert.Contains(t, output, "User learner staff=false")

	_, err = execute(t, "admin", "set-staff", "ghost")
	assert.Error(t, err)
}

// startDaemon runs a daemon in-process and points the CLI at it. It
// returns a staff token.
func startDaemon(t *testing.T) (*daemon.Daemon, string) {
	t.Helper()
	dir := isolate(t)
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Storage: config.StorageConfig{BaseDir: filepath.Join(dir, "daemon")},
		Daemon:  config.DaemonConfig{Host: "127.0.0.1", ShutdownTimeout: time.Second},
		Auth:    config.AuthConfig{SigningKey: "cli-test-key", Issuer: "learningpaths", TokenTTL: time.Hour},
		Milestones: config.MilestonesConfig{
			Mode: config.MilestoneModeSync,
		},
		Certificates: config.CertificatesConfig{Enabled: true},
	}
	d, err := daemon.New(cfg)
	require.NoError(t, err)
	d.SetAPIHandler(api.SetupRoutes(d))
	require.NoError(t, d.Start())
	t.Cleanup(func() { d.Shutdown() })

	_, port, err := net.SplitHostPort(d.Addr())
	require.NoError(t, err)
	t.Setenv("LEARNINGPATHS_DAEMON_PORT", port)
	t.Setenv("LEARNINGPATHS_UI_PROGRESS_BAR", "false")

	staff, err := d.GetDB().CreateUser(context.Background(), "staff", "staff@example.com", true)
	require.NoError(t, err)
	token, err := d.GetTokens().GenerateToken(staff)
	require.NoError(t, err)
	t.Setenv("LEARNINGPATHS_TOKEN", token)
	return d, token
}

func TestCLIAgainstDaemon(t *testing.T) {
	d, _ := startDaemon(t)
	key := "path-v1:OpenedX+DS+2025+cohort"

	output, err := execute(t, "daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, output, "Database: sqlite")

	output, err = execute(t, "paths", "create", key, "--name", "Data Science", "--level", "beginner", "--invite-only=false")
	require.NoError(t, err)
	assert.Contains(t, output, "Created learning path "+key)

	_, err = execute(t, "paths", "create", "not-a-key")
	assert.Error(t, err)

	output, err = execute(t, "paths", "add-step", key, "course-v1:OpenedX+A+2025", "--weight", "0.5")
	require.NoError(t, err)
	assert.Contains(t, output, "weight 0.50")

	output, err = execute(t, "skills", "create", "Statistics")
	require.NoError(t, err)
	assert.Contains(t, output, "Created skill 1")

	output, err = execute(t, "skills", "attach", key, "acquired", "1", "--level", "2")
	require.NoError(t, err)
	assert.Contains(t, output, "Attached acquired skill 1")

	output, err = execute(t, "paths", "show", key)
	require.NoError(t, err)
	assert.Contains(t, output, "Data Science")
	assert.Contains(t, output, "1. course-v1:OpenedX+A+2025")
	assert.Contains(t, output, "Statistics (level 2)")
	assert.Contains(t, output, "Certificate: 80% completion, 75% grade")

	output, err = execute(t, "paths")
	require.NoError(t, err)
	assert.Contains(t, output, "Total learning paths: 1")

	csvFile := filepath.Join(t.TempDir(), "learners.csv")
	require.NoError(t, os.WriteFile(csvFile, []byte("email\nstaff@example.com\nnew@example.com\n"), 0644))
	output, err = execute(t, "enroll", "bulk", "--paths", key, "--csv", csvFile)
	require.NoError(t, err)
	assert.Contains(t, output, "Enrolled: 1, pending: 1, failed rows: 0")

	output, err = execute(t, "enroll", "pending", key)
	require.NoError(t, err)
	assert.Contains(t, output, "new@example.com")

	output, err = execute(t, "users", "register", "new", "new@example.com")
	require.NoError(t, err)
	assert.Contains(t, output, "converted 1 pending enrollments")

	output, err = execute(t, "enroll", "pending", key)
	require.NoError(t, err)
	assert.Contains(t, output, "No pending enrollments.")

	output, err = execute(t, "users", "list")
	require.NoError(t, err)
	assert.Contains(t, output, "Total: 2 users")

	output, err = execute(t, "enrollments", "--user", "new")
	require.NoError(t, err)
	assert.Contains(t, output, key)

	output, err = execute(t, "groups", "create", "Cohort")
	require.NoError(t, err)
	assert.Contains(t, output, "Created group 1")

	output, err = execute(t, "groups", "assign", "1", "course-v1:OpenedX+A+2025")
	require.NoError(t, err)
	assert.Contains(t, output, "Cohort -> course-v1:OpenedX+A+2025 (audit)")

	newUser, err := d.GetDB().GetUserByUsername(context.Background(), "new")
	require.NoError(t, err)
	output, err = execute(t, "groups", "members", "add", "1", strconv.FormatInt(newUser.ID, 10))
	require.NoError(t, err)
	assert.Contains(t, output, "Members changed: 1")

	output, err = execute(t, "groups", "sync")
	require.NoError(t, err)
	assert.Contains(t, output, "Assignments synced: 1")

	output, err = execute(t, "paths", "progress", key, "--user", "new")
	require.NoError(t, err)
	assert.Contains(t, output, "Progress: 0%")
	assert.Contains(t, output, "insufficient_completion")

	output, err = execute(t, "users", "me")
	require.NoError(t, err)
	assert.Contains(t, output, "staff <staff@example.com> staff=true")

	output, err = execute(t, "paths", "delete", key)
	require.NoError(t, err)
	assert.Contains(t, output, "Deleted learning path")
}
