package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learningpaths/learningpaths/internal/courses"
	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/pkg/types"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusActive    JobStatus = "active"
	JobStatusFulfilled JobStatus = "fulfilled"
	JobStatusSkipped   JobStatus = "skipped"
	JobStatusFailed    JobStatus = "failed"
)

// Done reports whether the job reached a final status
func (s JobStatus) Done() bool {
	return s == JobStatusFulfilled || s == JobStatusSkipped || s == JobStatusFailed
}

// MilestoneJob is one milestone check for a learner who made progress in a course
type MilestoneJob struct {
	ID                string     `json:"id"`
	UserID            int64      `json:"user_id"`
	CourseKey         string     `json:"course_key"`
	Status            JobStatus  `json:"status"`
	Attempts          int        `json:"attempts"`
	Reason            string     `json:"reason,omitempty"`
	CompletionPercent float64    `json:"completion_percent"`
	GradePercent      float64    `json:"grade_percent"`
	EnqueuedAt        time.Time  `json:"enqueued_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	LastActivity      time.Time  `json:"last_activity"`
	Error             string     `json:"error,omitempty"`
}

// MilestoneChecker evaluates and fulfills course milestones
type MilestoneChecker interface {
	CheckAndFulfillMilestone(ctx context.Context, userID int64, course types.CourseKey) (*courses.MilestoneResult, error)
}

type QueueOptions struct {
	Async      bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// MilestoneQueue runs milestone checks inline or on a worker pool with
// exponential retry backoff
type MilestoneQueue struct {
	mu      sync.RWMutex
	checker MilestoneChecker
	state   *State
	opts    QueueOptions
	jobs    map[string]*MilestoneJob
	queue   chan *MilestoneJob
	workers sync.WaitGroup
	started bool

	closeMu sync.RWMutex
	closed  bool
}

func NewMilestoneQueue(checker MilestoneChecker, state *State, opts QueueOptions) *MilestoneQueue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &MilestoneQueue{
		checker: checker,
		state:   state,
		opts:    opts,
		jobs:    make(map[string]*MilestoneJob),
		queue:   make(chan *MilestoneJob, 256),
	}
}

// Start launches the workers of an async queue and requeues jobs left
// pending by a previous run
func (q *MilestoneQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if !q.opts.Async || q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.workers.Add(1)
		go q.worker(ctx)
	}

	for _, job := range q.state.PendingJobs() {
		q.mu.Lock()
		q.jobs[job.ID] = job
		q.mu.Unlock()
		q.submit(ctx, job)
	}
}

// Stop closes the queue and waits for the workers to drain it
func (q *MilestoneQueue) Stop() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	close(q.queue)
	q.closeMu.Unlock()
	q.workers.Wait()
}

// Enqueue schedules a milestone check. Sync queues run it before returning.
func (q *MilestoneQueue) Enqueue(ctx context.Context, userID int64, course types.CourseKey) *MilestoneJob {
	now := time.Now()
	job := &MilestoneJob{
		ID:           uuid.New().String(),
		UserID:       userID,
		CourseKey:    course.String(),
		Status:       JobStatusPending,
		EnqueuedAt:   now,
		LastActivity: now,
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()
	q.state.AddJob(*job)

	if !q.opts.Async {
		q.process(ctx, job)
		return job
	}
	q.submit(ctx, job)
	return job
}

func (q *MilestoneQueue) submit(ctx context.Context, job *MilestoneJob) {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.queue <- job:
	case <-ctx.Done():
	}
}

func (q *MilestoneQueue) worker(ctx context.Context) {
	defer q.workers.Done()
	for job := range q.queue {
		q.process(ctx, job)
	}
}

func (q *MilestoneQueue) process(ctx context.Context, job *MilestoneJob) {
	log := logger.L()
	course, err := types.ParseCourseKey(job.CourseKey)
	if err != nil {
		q.finish(job, JobStatusFailed, nil, err)
		return
	}

	delay := q.opts.RetryDelay
	for {
		q.update(job, func(j *MilestoneJob) {
			j.Status = JobStatusActive
			j.Attempts++
		})

		result, err := q.checker.CheckAndFulfillMilestone(ctx, job.UserID, course)
		if err == nil {
			status := JobStatusSkipped
			if result.Success {
				status = JobStatusFulfilled
				log.Info("[Milestones Task] Fulfilled milestone",
					"user_id", job.UserID, "course", job.CourseKey,
					"completion", result.CompletionPercent, "grade", result.GradePercent)
			} else {
				log.Debug("[Milestones Task] Skipped milestone",
					"user_id", job.UserID, "course", job.CourseKey, "reason", result.Reason,
					"completion", result.CompletionPercent, "grade", result.GradePercent)
			}
			q.finish(job, status, result, nil)
			return
		}

		attempts := q.Job(job.ID).Attempts
		log.Error("[Milestones Task] Task failed",
			"user_id", job.UserID, "course", job.CourseKey, "error", err,
			"attempt", attempts, "max_retries", q.opts.MaxRetries)
		if attempts > q.opts.MaxRetries || errors.Is(err, context.Canceled) {
			q.finish(job, JobStatusFailed, nil, err)
			return
		}

		select {
		case <-ctx.Done():
			q.finish(job, JobStatusFailed, nil, ctx.Err())
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (q *MilestoneQueue) update(job *MilestoneJob, fn func(*MilestoneJob)) {
	q.mu.Lock()
	fn(job)
	job.LastActivity = time.Now()
	q.mu.Unlock()
}

func (q *MilestoneQueue) finish(job *MilestoneJob, status JobStatus, result *courses.MilestoneResult, err error) {
	q.update(job, func(j *MilestoneJob) {
		now := time.Now()
		j.Status = status
		j.CompletedAt = &now
		if result != nil {
			j.Reason = result.Reason
			j.CompletionPercent = result.CompletionPercent
			j.GradePercent = result.GradePercent
		}
		if err != nil {
			j.Error = err.Error()
		}
	})
	q.state.RecordJob(*q.Job(job.ID))
}

// Job returns a copy of a job, nil when unknown
func (q *MilestoneQueue) Job(id string) *MilestoneJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// Jobs returns copies of all known jobs
func (q *MilestoneQueue) Jobs() []MilestoneJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]MilestoneJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *job)
	}
	return out
}

// PendingCount returns the number of jobs not yet finished
func (q *MilestoneQueue) PendingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, job := range q.jobs {
		if !job.Status.Done() {
			n++
		}
	}
	return n
}

// Cleanup forgets finished jobs older than maxAge
func (q *MilestoneQueue) Cleanup(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range q.jobs {
		if job.Status.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			q.state.RemoveJob(id)
			removed++
		}
	}
	return removed
}
