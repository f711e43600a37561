//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learningpaths/learningpaths/internal/api"
	"github.com/learningpaths/learningpaths/internal/api/client"
	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/daemon"
	"github.com/learningpaths/learningpaths/internal/enrollment"
	"github.com/learningpaths/learningpaths/pkg/types"
)

const (
	pathKey = "path-v1:OpenedX+E2E+2025+cohort"
	courseA = "course-v1:OpenedX+E2E1+2025"
	courseB = "course-v1:OpenedX+E2E2+2025"
)

func testConfig(t testing.TB) *config.Config {
	tempDir := t.TempDir()
	t.Setenv("LEARNINGPATHS_HOME", tempDir)
	t.Setenv("LEARNINGPATHS_CONFIG", filepath.Join(tempDir, "config"))

	return &config.Config{
		Storage: config.StorageConfig{BaseDir: tempDir},
		Daemon:  config.DaemonConfig{Host: "127.0.0.1", ShutdownTimeout: 2 * time.Second},
		Auth:    config.AuthConfig{Issuer: "learningpaths", TokenTTL: time.Hour},
		Milestones: config.MilestonesConfig{
			PrerequisitesEnabled: true,
			Mode:                 config.MilestoneModeAsync,
			Workers:              4,
			MaxRetries:           2,
			RetryDelay:           10 * time.Millisecond,
		},
		Certificates: config.CertificatesConfig{Enabled: true},
	}
}

// startDaemon starts a daemon with the API attached and returns an
// unauthenticated client and a staff client
func startDaemon(t testing.TB, cfg *config.Config) (*daemon.Daemon, *client.Client, *client.Client) {
	gin.SetMode(gin.TestMode)

	d, err := daemon.New(cfg)
	require.NoError(t, err)
	d.SetAPIHandler(api.SetupRoutes(d))
	require.NoError(t, d.Start())

	apiURL := "http://" + d.Addr()
	require.NoError(t, waitForDaemon(apiURL, 5*time.Second))

	anon := client.NewClient(apiURL)
	return d, anon, anon.WithToken(staffToken(t, d))
}

// staffToken returns a token for the staff user, creating the user once
func staffToken(t testing.TB, d *daemon.Daemon) string {
	ctx := context.Background()
	staff, err := d.GetDB().GetUserByUsername(ctx, "staff")
	if err != nil {
		staff, err = d.GetDB().CreateUser(ctx, "staff", "staff@example.com", true)
		require.NoError(t, err)
	}
	token, err := d.GetTokens().GenerateToken(staff)
	require.NoError(t, err)
	return token
}

// TestDaemonLifecycle tests starting, interacting with, and stopping the daemon
func TestDaemonLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	d, anon, staff := startDaemon(t, testConfig(t))
	defer d.Shutdown()

	require.NoError(t, anon.Health())

	status, err := anon.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", status["database_driver"])
	assert.Equal(t, config.MilestoneModeAsync, status["milestone_mode"])

	_, groups, err := anon.Surface()
	require.NoError(t, err)
	assert.Len(t, groups, 4)

	// Shutdown is staff only
	assert.True(t, client.IsStatus(anon.Shutdown(), http.StatusUnauthorized))

	t.Log("Stopping daemon...")
	require.NoError(t, staff.Shutdown())

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	require.NoError(t, d.Shutdown())
	assert.Error(t, anon.Health())
}

// TestDaemonConcurrentRequests tests concurrent enrollments and completions
// with milestone checks running on the worker pool
func TestDaemonConcurrentRequests(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	cfg := testConfig(t)
	cfg.RateLimit = config.RateLimitConfig{Enabled: false}
	d, _, staff := startDaemon(t, cfg)
	defer d.Shutdown()

	_, err := staff.CreateLearningPath(map[string]interface{}{"key": pathKey, "display_name": "E2E"})
	require.NoError(t, err)
	_, err = staff.AddStep(pathKey, courseA, nil, nil)
	require.NoError(t, err)
	_, err = staff.AddStep(pathKey, courseB, nil, nil)
	require.NoError(t, err)

	const learners = 10
	var wg sync.WaitGroup
	errs := make(chan error, learners*4)
	for i := 0; i < learners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			username := fmt.Sprintf("learner%d", i)
			if _, _, err := staff.RegisterUser(username, username+"@example.com", false); err != nil {
				errs <- err
				return
			}
			if _, _, err := staff.Enroll(pathKey, username); err != nil {
				errs <- err
			}
			if err := staff.RecordGrade(courseA, username, 0.9, true); err != nil {
				errs <- err
			}
			if err := staff.RecordCompletion(courseA, username, 10, 0); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	paths, err := staff.ListLearningPaths()
	require.NoError(t, err)
	assert.Len(t, paths, 1)

	// Every completion is checked asynchronously and fulfills its milestone
	assert.Eventually(t, func() bool {
		return d.GetState().GetStatistics().MilestonesFulfilled == learners
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, d.GetMilestones().PendingCount())

	p, err := staff.Progress(pathKey, "learner3")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p.Progress, 1e-9)
}

// TestDaemonRestart tests that data, tokens and job statistics survive a restart
func TestDaemonRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	cfg := testConfig(t)
	cfg.Milestones.Mode = config.MilestoneModeSync

	t.Log("Starting first daemon instance...")
	d1, _, staff := startDaemon(t, cfg)

	_, err := staff.CreateLearningPath(map[string]interface{}{"key": pathKey, "display_name": "Persistent"})
	require.NoError(t, err)
	_, err = staff.AddStep(pathKey, courseA, nil, nil)
	require.NoError(t, err)
	_, _, err = staff.RegisterUser("learner", "learner@example.com", false)
	require.NoError(t, err)
	require.NoError(t, staff.RecordGrade(courseA, "learner", 1, true))
	require.NoError(t, staff.RecordCompletion(courseA, "learner", 4, 0))
	assert.Equal(t, 1, d1.GetState().GetStatistics().MilestonesFulfilled)

	_, err = staff.BulkEnroll(enrollment.BulkRequest{LearningPaths: pathKey, Emails: "later@example.com"})
	require.NoError(t, err)
	token := staffToken(t, d1)

	t.Log("Shutting down first daemon...")
	require.NoError(t, d1.Shutdown())

	t.Log("Starting second daemon instance...")
	d2, _, _ := startDaemon(t, cfg)
	defer d2.Shutdown()

	// The token from the first instance is still valid
	staff = client.NewClient("http://" + d2.Addr()).WithToken(token)
	detail, err := staff.GetLearningPath(pathKey)
	require.NoError(t, err)
	assert.Equal(t, "Persistent", detail.LearningPath.DisplayName)
	assert.Len(t, detail.Steps, 1)

	_, converted, err := staff.RegisterUser("later", "later@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, 1, converted, "pending enrollment survived the restart")

	stats := d2.GetState().GetStatistics()
	assert.Equal(t, 1, stats.MilestonesFulfilled)
	assert.Equal(t, 2, stats.DaemonStartCount)
}

// TestDaemonErrorHandling tests error responses of the API
func TestDaemonErrorHandling(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	d, anon, staff := startDaemon(t, testConfig(t))
	defer d.Shutdown()

	resp, err := http.Get("http://" + d.Addr() + "/api/v1/invalid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = anon.ListLearningPaths()
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))

	_, err = anon.WithToken("not-a-token").Me()
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))

	_, err = staff.GetLearningPath("course-v1:OpenedX+E2E1+2025")
	assert.True(t, client.IsStatus(err, http.StatusBadRequest))

	_, err = staff.GetLearningPath(pathKey)
	assert.True(t, client.IsStatus(err, http.StatusNotFound))

	_, err = staff.CreateGroup("")
	assert.True(t, client.IsStatus(err, http.StatusBadRequest))

	_, err = staff.CreateAssignment(999, courseA, types.ModeAudit, true)
	assert.True(t, client.IsStatus(err, http.StatusNotFound))
}

// BenchmarkDaemonAPIThroughput benchmarks API request throughput
func BenchmarkDaemonAPIThroughput(b *testing.B) {
	cfg := testConfig(b)
	cfg.RateLimit = config.RateLimitConfig{Enabled: false}
	d, anon, staff := startDaemon(b, cfg)
	defer d.Shutdown()

	_, err := staff.CreateLearningPath(map[string]interface{}{"key": pathKey, "display_name": "Bench"})
	require.NoError(b, err)

	b.ResetTimer()

	b.Run("Health", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = anon.Health()
		}
	})

	b.Run("ListLearningPaths", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = staff.ListLearningPaths()
		}
	})

	b.Run("LearningPathDetail", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = staff.GetLearningPath(pathKey)
		}
	})
}

// waitForDaemon waits for the daemon to be ready
func waitForDaemon(apiURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := http.Get(apiURL + "/api/v1/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("daemon did not become ready within %v", timeout)
}
