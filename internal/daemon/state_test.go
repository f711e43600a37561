package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateNewState(t *testing.T) {
	tmpDir := t.TempDir()
	stateFile := filepath.Join(tmpDir, "state.json")

	s := NewState(stateFile)
	assert.NotNil(t, s)
	assert.Equal(t, stateFile, s.filePath)
	assert.NotNil(t, s.Jobs)
}

func TestStateSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	stateFile := filepath.Join(tmpDir, "state.json")

	s := NewState(stateFile)
	s.AddJob(MilestoneJob{ID: "job-1", UserID: 7, CourseKey: "course-v1:OpenedX+A+2025", Status: JobStatusPending})
	s.RecordJob(MilestoneJob{ID: "job-2", UserID: 7, CourseKey: "course-v1:OpenedX+B+2025", Status: JobStatusFulfilled})

	require.NoError(t, s.Save())
	_, err := os.Stat(stateFile)
	require.NoError(t, err)
	assert.NoFileExists(t, stateFile+".tmp")

	s2 := NewState(stateFile)
	require.NoError(t, s2.Load())

	assert.Len(t, s2.Jobs, 2)
	assert.Equal(t, int64(7), s2.Jobs["job-1"].UserID)
	assert.Equal(t, 1, s2.Statistics.MilestonesFulfilled)
	assert.Equal(t, 1, s2.Statistics.MilestonesChecked)
	assert.Equal(t, 1, s2.Statistics.DaemonStartCount)
}

func TestStateLoadNonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	stateFile := filepath.Join(tmpDir, "nonexistent.json")

	s := NewState(stateFile)
	require.NoError(t, s.Load())
	assert.Equal(t, 1, s.Statistics.DaemonStartCount)
	assert.Empty(t, s.Jobs)
}

func TestStateLoadCorrupt(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("{not json"), 0644))

	s := NewState(stateFile)
	assert.Error(t, s.Load())
}

func TestStateRecordJob(t *testing.T) {
	s := NewState(filepath.Join(t.TempDir(), "state.json"))

	s.RecordJob(MilestoneJob{ID: "a", Status: JobStatusFulfilled})
	s.RecordJob(MilestoneJob{ID: "b", Status: JobStatusSkipped})
	s.RecordJob(MilestoneJob{ID: "c", Status: JobStatusFailed})

	stats := s.GetStatistics()
	assert.Equal(t, 2, stats.MilestonesChecked)
	assert.Equal(t, 1, stats.MilestonesFulfilled)
	assert.Equal(t, 1, stats.MilestoneJobsFailed)

	s.RemoveJob("a")
	assert.NotContains(t, s.Jobs, "a")
}

func TestStateStoresCopies(t *testing.T) {
	s := NewState(filepath.Join(t.TempDir(), "state.json"))

	job := MilestoneJob{ID: "a", Status: JobStatusPending}
	s.AddJob(job)
	job.Status = JobStatusFailed

	assert.Equal(t, JobStatusPending, s.Jobs["a"].Status)
}

func TestStatePendingJobs(t *testing.T) {
	s := NewState(filepath.Join(t.TempDir(), "state.json"))
	s.AddJob(MilestoneJob{ID: "pending", Status: JobStatusPending})
	s.AddJob(MilestoneJob{ID: "active", Status: JobStatusActive})
	s.RecordJob(MilestoneJob{ID: "done", Status: JobStatusSkipped})

	pending := s.PendingJobs()
	require.Len(t, pending, 2)
	for _, job := range pending {
		assert.Equal(t, JobStatusPending, job.Status)
	}
	assert.Equal(t, JobStatusActive, s.Jobs["active"].Status, "pending copies do not touch stored jobs")
}

func TestStateCleanupOldJobs(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	s := NewState(stateFile)

	old := time.Now().Add(-8 * 24 * time.Hour)
	recent := time.Now().Add(-time.Hour)
	s.RecordJob(MilestoneJob{ID: "old", Status: JobStatusFulfilled, CompletedAt: &old})
	s.RecordJob(MilestoneJob{ID: "recent", Status: JobStatusFulfilled, CompletedAt: &recent})
	s.AddJob(MilestoneJob{ID: "unfinished", Status: JobStatusPending, EnqueuedAt: old})
	require.NoError(t, s.Save())

	s2 := NewState(stateFile)
	require.NoError(t, s2.Load())
	assert.NotContains(t, s2.Jobs, "old")
	assert.Contains(t, s2.Jobs, "recent")
	assert.Contains(t, s2.Jobs, "unfinished")
}

func TestStateConcurrency(t *testing.T) {
	s := NewState(filepath.Join(t.TempDir(), "state.json"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			s.AddJob(MilestoneJob{ID: id, Status: JobStatusPending})
			s.RecordJob(MilestoneJob{ID: id, Status: JobStatusFulfilled})
			_ = s.GetStatistics()
			_ = s.PendingJobs()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, s.GetStatistics().MilestonesFulfilled)
	require.NoError(t, s.Save())
}
