// Package courses is the course-side backend learning paths build on:
// course enrollments, schedules, grades, completion and milestones.
package courses

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

// MinCompletionPercent is the completion a learner needs before a course
// milestone can be fulfilled
const MinCompletionPercent = 95.0

// Milestone check outcomes
const (
	ReasonPrerequisitesDisabled  = "prerequisites_disabled"
	ReasonInsufficientCompletion = "insufficient_completion"
	ReasonNotPassing             = "not_passing"
	ReasonMilestoneFulfilled     = "milestone_fulfilled"
)

// Store is the persistence the course backend needs
type Store interface {
	GetCourseEnrollment(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseEnrollment, error)
	CreateCourseEnrollment(ctx context.Context, e *types.CourseEnrollment) error
	UpdateCourseEnrollment(ctx context.Context, e *types.CourseEnrollment) error
	ListCourseEnrollments(ctx context.Context, userID int64) ([]types.CourseEnrollment, error)
	UpsertCourseRun(ctx context.Context, run *types.CourseRun) error
	GetCourseRun(ctx context.Context, course types.CourseKey) (*types.CourseRun, error)
	UpsertCourseGrade(ctx context.Context, g *types.CourseGrade) error
	GetCourseGrade(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseGrade, error)
	UpsertCourseCompletion(ctx context.Context, c *types.CourseCompletion) error
	GetCourseCompletion(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseCompletion, error)
	AddCoursePrerequisite(ctx context.Context, course, required types.CourseKey) error
	ListCoursePrerequisites(ctx context.Context, course types.CourseKey) ([]types.CoursePrerequisite, error)
	FulfillMilestone(ctx context.Context, userID int64, course types.CourseKey) (bool, error)
	GetMilestone(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseMilestone, error)
}

// CompletionHook is called after a learner's completion in a course changes
type CompletionHook func(ctx context.Context, userID int64, course types.CourseKey)

type Options struct {
	PrerequisitesEnabled bool
}

// Service manages course enrollments and learner records
type Service struct {
	store        Store
	opts         Options
	onCompletion CompletionHook
}

func NewService(store Store, opts Options) *Service {
	return &Service{store: store, opts: opts}
}

// OnCompletion registers the hook run by RecordCompletion
func (s *Service) OnCompletion(hook CompletionHook) {
	s.onCompletion = hook
}

// PrerequisitesEnabled reports whether milestone checks are active
func (s *Service) PrerequisitesEnabled() bool {
	return s.opts.PrerequisitesEnabled
}

// EnrollUserInCourse enrolls a user in a course with the given mode. It
// returns true when a new active enrollment was made and false when the user
// was already actively enrolled.
func (s *Service) EnrollUserInCourse(ctx context.Context, user *types.User, course types.CourseKey, mode types.EnrollmentMode) (bool, error) {
	if mode == "" {
		mode = types.ModeAudit
	}
	if !mode.Valid() {
		return false, fmt.Errorf("invalid enrollment mode %q", mode)
	}

	existing, err := s.store.GetCourseEnrollment(ctx, user.ID, course)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		e := &types.CourseEnrollment{UserID: user.ID, CourseKey: course, Mode: mode, IsActive: true}
		if err := s.store.CreateCourseEnrollment(ctx, e); err != nil {
			return false, fmt.Errorf("failed to enroll %s in %s: %w", user.Username, course, err)
		}
		return true, nil
	case err != nil:
		return false, err
	case existing.IsActive:
		return false, nil
	}

	existing.IsActive = true
	existing.Mode = mode
	if err := s.store.UpdateCourseEnrollment(ctx, existing); err != nil {
		return false, fmt.Errorf("failed to reactivate %s in %s: %w", user.Username, course, err)
	}
	return true, nil
}

// UnenrollUserFromCourse deactivates a user's course enrollment. It returns
// true if an active enrollment was deactivated.
func (s *Service) UnenrollUserFromCourse(ctx context.Context, user *types.User, course types.CourseKey) (bool, error) {
	existing, err := s.store.GetCourseEnrollment(ctx, user.ID, course)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !existing.IsActive {
		return false, nil
	}
	existing.IsActive = false
	if err := s.store.UpdateCourseEnrollment(ctx, existing); err != nil {
		return false, fmt.Errorf("failed to unenroll %s from %s: %w", user.Username, course, err)
	}
	return true, nil
}

// IsEnrolled reports whether a user is actively enrolled in a course
func (s *Service) IsEnrolled(ctx context.Context, userID int64, course types.CourseKey) (bool, error) {
	e, err := s.store.GetCourseEnrollment(ctx, userID, course)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.IsActive, nil
}

// Enrollments returns a user's course enrollments
func (s *Service) Enrollments(ctx context.Context, userID int64) ([]types.CourseEnrollment, error) {
	return s.store.ListCourseEnrollments(ctx, userID)
}

// SetCourseDates records the schedule of a course
func (s *Service) SetCourseDates(ctx context.Context, course types.CourseKey, start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("course %s ends before it starts", course)
	}
	return s.store.UpsertCourseRun(ctx, &types.CourseRun{CourseKey: course, Start: start, End: end})
}

// CourseDates returns the start and end of a course, nil when unknown
func (s *Service) CourseDates(ctx context.Context, course types.CourseKey) (start, end *time.Time, err error) {
	run, err := s.store.GetCourseRun(ctx, course)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return run.Start, run.End, nil
}

// RecordGrade stores a learner's grade in a course
func (s *Service) RecordGrade(ctx context.Context, g *types.CourseGrade) error {
	if g.Percent < 0 || g.Percent > 1 {
		return fmt.Errorf("grade percent must be between 0 and 1, got %v", g.Percent)
	}
	return s.store.UpsertCourseGrade(ctx, g)
}

// Grade returns a learner's grade in a course, nil when ungraded
func (s *Service) Grade(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseGrade, error) {
	g, err := s.store.GetCourseGrade(ctx, userID, course)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return g, err
}

// RecordCompletion stores a learner's completion counts and runs the
// completion hook
func (s *Service) RecordCompletion(ctx context.Context, c *types.CourseCompletion) error {
	if c.Complete < 0 || c.Incomplete < 0 || c.Locked < 0 {
		return errors.New("completion counts cannot be negative")
	}
	if err := s.store.UpsertCourseCompletion(ctx, c); err != nil {
		return err
	}
	if s.onCompletion != nil && c.Complete > 0 {
		s.onCompletion(ctx, c.UserID, c.CourseKey)
	}
	return nil
}

// Completion returns the share of completed units in a course, 0..1
func (s *Service) Completion(ctx context.Context, userID int64, course types.CourseKey) (float64, error) {
	c, err := s.store.GetCourseCompletion(ctx, userID, course)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Ratio(), nil
}

// MilestoneResult is the outcome of a milestone check
type MilestoneResult struct {
	Success           bool    `json:"success"`
	Reason            string  `json:"reason"`
	CompletionPercent float64 `json:"completion_percent"`
	GradePercent      float64 `json:"grade_percent"`
	HasPassingGrade   bool    `json:"has_passing_grade"`
}

// CheckAndFulfillMilestone fulfills the course milestone for a learner who
// has completed at least MinCompletionPercent of the course with a passing
// grade.
func (s *Service) CheckAndFulfillMilestone(ctx context.Context, userID int64, course types.CourseKey) (*MilestoneResult, error) {
	if !s.opts.PrerequisitesEnabled {
		return &MilestoneResult{Reason: ReasonPrerequisitesDisabled}, nil
	}

	ratio, err := s.Completion(ctx, userID, course)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion: %w", err)
	}
	percent := ratio * 100
	result := &MilestoneResult{CompletionPercent: math.Round(percent)}

	grade, err := s.Grade(ctx, userID, course)
	if err != nil {
		return nil, fmt.Errorf("failed to read grade: %w", err)
	}
	if grade != nil {
		result.GradePercent = grade.Percent * 100
		result.HasPassingGrade = grade.Passed
	}

	// The rounded percent is for display only
	if percent < MinCompletionPercent {
		result.Reason = ReasonInsufficientCompletion
		return result, nil
	}
	if !result.HasPassingGrade {
		result.Reason = ReasonNotPassing
		return result, nil
	}

	created, err := s.store.FulfillMilestone(ctx, userID, course)
	if err != nil {
		return nil, fmt.Errorf("failed to fulfill milestone: %w", err)
	}
	if created {
		logger.L().Info("[Milestones] Fulfilled milestone",
			"user_id", userID, "course", course.String(),
			"completion", result.CompletionPercent, "grade", result.GradePercent)
	}

	result.Success = true
	result.Reason = ReasonMilestoneFulfilled
	return result, nil
}

// AddPrerequisite declares that course requires another course first
func (s *Service) AddPrerequisite(ctx context.Context, course, required types.CourseKey) error {
	if course == required {
		return errors.New("a course cannot require itself")
	}
	return s.store.AddCoursePrerequisite(ctx, course, required)
}

// Prerequisites returns the courses required before course, marking the
// ones the learner has fulfilled
func (s *Service) Prerequisites(ctx context.Context, userID int64, course types.CourseKey) ([]types.CoursePrerequisite, error) {
	prereqs, err := s.store.ListCoursePrerequisites(ctx, course)
	if err != nil {
		return nil, err
	}
	for i := range prereqs {
		_, err := s.store.GetMilestone(ctx, userID, prereqs[i].RequiredCourse)
		switch {
		case err == nil:
			prereqs[i].Fulfilled = true
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}
	return prereqs, nil
}

// Unfulfilled returns the prerequisites of course the learner still lacks.
// Nothing is required when prerequisite checks are disabled.
func (s *Service) Unfulfilled(ctx context.Context, userID int64, course types.CourseKey) ([]types.CoursePrerequisite, error) {
	if !s.opts.PrerequisitesEnabled {
		return nil, nil
	}
	prereqs, err := s.Prerequisites(ctx, userID, course)
	if err != nil {
		return nil, err
	}
	var missing []types.CoursePrerequisite
	for _, p := range prereqs {
		if !p.Fulfilled {
			missing = append(missing, p)
		}
	}
	return missing, nil
}
