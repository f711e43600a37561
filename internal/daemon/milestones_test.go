package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learningpaths/learningpaths/internal/courses"
	"github.com/learningpaths/learningpaths/pkg/types"
)

var testCourse = types.MustParseCourseKey("course-v1:OpenedX+A+2025")

// scriptedChecker fails the first failures calls, then returns result
type scriptedChecker struct {
	mu       sync.Mutex
	calls    int
	failures int
	result   courses.MilestoneResult
}

func (c *scriptedChecker) CheckAndFulfillMilestone(ctx context.Context, userID int64, course types.CourseKey) (*courses.MilestoneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("database is locked")
	}
	r := c.result
	return &r, nil
}

func (c *scriptedChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestState(t *testing.T) *State {
	t.Helper()
	return NewState(filepath.Join(t.TempDir(), "state.json"))
}

func waitDone(t *testing.T, q *MilestoneQueue, id string) *MilestoneJob {
	t.Helper()
	var job *MilestoneJob
	require.Eventually(t, func() bool {
		job = q.Job(id)
		return job != nil && job.Status.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestMilestoneQueueSync(t *testing.T) {
	checker := &scriptedChecker{result: courses.MilestoneResult{
		Success: true, Reason: courses.ReasonMilestoneFulfilled, CompletionPercent: 100, GradePercent: 80,
	}}
	state := newTestState(t)
	q := NewMilestoneQueue(checker, state, QueueOptions{})

	job := q.Enqueue(context.Background(), 1, testCourse)

	got := q.Job(job.ID)
	require.NotNil(t, got)
	assert.Equal(t, JobStatusFulfilled, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 80.0, got.GradePercent)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 0, q.PendingCount())
	assert.Equal(t, 1, state.GetStatistics().MilestonesFulfilled)
}

func TestMilestoneQueueSkipped(t *testing.T) {
	checker := &scriptedChecker{result: courses.MilestoneResult{
		Reason: courses.ReasonInsufficientCompletion, CompletionPercent: 40,
	}}
	q := NewMilestoneQueue(checker, newTestState(t), QueueOptions{})

	job := q.Enqueue(context.Background(), 1, testCourse)
	got := q.Job(job.ID)
	assert.Equal(t, JobStatusSkipped, got.Status)
	assert.Equal(t, courses.ReasonInsufficientCompletion, got.Reason)
}

func TestMilestoneQueueAsyncRetries(t *testing.T) {
	checker := &scriptedChecker{
		failures: 2,
		result:   courses.MilestoneResult{Success: true, Reason: courses.ReasonMilestoneFulfilled},
	}
	q := NewMilestoneQueue(checker, newTestState(t), QueueOptions{
		Async: true, Workers: 2, MaxRetries: 3, RetryDelay: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	job := q.Enqueue(ctx, 1, testCourse)
	got := waitDone(t, q, job.ID)

	assert.Equal(t, JobStatusFulfilled, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 3, checker.Calls())
}

func TestMilestoneQueueGivesUp(t *testing.T) {
	checker := &scriptedChecker{failures: 100}
	state := newTestState(t)
	q := NewMilestoneQueue(checker, state, QueueOptions{
		Async: true, MaxRetries: 2, RetryDelay: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	job := q.Enqueue(ctx, 1, testCourse)
	got := waitDone(t, q, job.ID)

	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts, "one attempt plus max_retries")
	assert.Contains(t, got.Error, "database is locked")
	assert.Equal(t, 1, state.GetStatistics().MilestoneJobsFailed)
}

func TestMilestoneQueueResumesPendingJobs(t *testing.T) {
	state := newTestState(t)
	state.AddJob(MilestoneJob{ID: "left-over", UserID: 3, CourseKey: testCourse.String(), Status: JobStatusActive})

	checker := &scriptedChecker{result: courses.MilestoneResult{Success: true}}
	q := NewMilestoneQueue(checker, state, QueueOptions{Async: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	got := waitDone(t, q, "left-over")
	assert.Equal(t, JobStatusFulfilled, got.Status)
	assert.Equal(t, int64(3), got.UserID)
}

func TestMilestoneQueueInvalidCourse(t *testing.T) {
	checker := &scriptedChecker{}
	state := newTestState(t)
	state.AddJob(MilestoneJob{ID: "bad", CourseKey: "not-a-course", Status: JobStatusPending})

	q := NewMilestoneQueue(checker, state, QueueOptions{Async: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	got := waitDone(t, q, "bad")
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, 0, checker.Calls())
}

func TestMilestoneQueueCleanup(t *testing.T) {
	checker := &scriptedChecker{result: courses.MilestoneResult{Success: true}}
	state := newTestState(t)
	q := NewMilestoneQueue(checker, state, QueueOptions{})

	job := q.Enqueue(context.Background(), 1, testCourse)
	assert.Equal(t, 0, q.Cleanup(time.Hour))
	assert.Equal(t, 1, q.Cleanup(0))
	assert.Nil(t, q.Job(job.ID))
	assert.Empty(t, q.Jobs())
	assert.NotContains(t, state.Jobs, job.ID)
}

func TestMilestoneQueueStopIsIdempotent(t *testing.T) {
	q := NewMilestoneQueue(&scriptedChecker{}, newTestState(t), QueueOptions{Async: true})
	q.Start(context.Background())
	q.Stop()
	q.Stop()

	// Enqueue after stop records the job but never runs it
	job := q.Enqueue(context.Background(), 1, testCourse)
	assert.Equal(t, JobStatusPending, q.Job(job.ID).Status)
}
