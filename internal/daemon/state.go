package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// jobRetention is how long finished milestone jobs are kept in the state file
const jobRetention = 7 * 24 * time.Hour

type State struct {
	mu         sync.RWMutex
	filePath   string
	StartTime  time.Time                `json:"start_time"`
	Jobs       map[string]*MilestoneJob `json:"jobs"`
	Statistics Statistics               `json:"statistics"`
	LastSave   time.Time                `json:"last_save"`
}

type Statistics struct {
	MilestonesChecked   int       `json:"milestones_checked"`
	MilestonesFulfilled int       `json:"milestones_fulfilled"`
	MilestoneJobsFailed int       `json:"milestone_jobs_failed"`
	DaemonStartCount    int       `json:"daemon_start_count"`
	LastStartTime       time.Time `json:"last_start_time"`
}

func NewState(filePath string) *State {
	return &State{
		filePath:  filePath,
		StartTime: time.Now(),
		Jobs:      make(map[string]*MilestoneJob),
	}
}

func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No previous state, start fresh
			s.Statistics.DaemonStartCount = 1
			s.Statistics.LastStartTime = s.StartTime
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}

	s.Jobs = loaded.Jobs
	if s.Jobs == nil {
		s.Jobs = make(map[string]*MilestoneJob)
	}
	s.Statistics = loaded.Statistics
	s.Statistics.DaemonStartCount++
	s.Statistics.LastStartTime = s.StartTime

	s.cleanupOldJobs()
	return nil
}

func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastSave = time.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to temporary file first
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	// Rename to final location (atomic operation)
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

// AddJob records a newly enqueued job
func (s *State) AddJob(job MilestoneJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Jobs[job.ID] = &job
}

// RecordJob stores a finished job and updates the statistics
func (s *State) RecordJob(job MilestoneJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Jobs[job.ID] = &job
	switch job.Status {
	case JobStatusFulfilled:
		s.Statistics.MilestonesChecked++
		s.Statistics.MilestonesFulfilled++
	case JobStatusSkipped:
		s.Statistics.MilestonesChecked++
	case JobStatusFailed:
		s.Statistics.MilestoneJobsFailed++
	}
}

func (s *State) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.Jobs, id)
}

// PendingJobs returns copies of the jobs that never finished, reset to pending
func (s *State) PendingJobs() []*MilestoneJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*MilestoneJob
	for _, job := range s.Jobs {
		if job.Status.Done() {
			continue
		}
		cp := *job
		cp.Status = JobStatusPending
		out = append(out, &cp)
	}
	return out
}

func (s *State) cleanupOldJobs() {
	cutoff := time.Now().Add(-jobRetention)
	for id, job := range s.Jobs {
		if job.Status.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.Jobs, id)
		}
	}
}

func (s *State) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.Statistics
}
