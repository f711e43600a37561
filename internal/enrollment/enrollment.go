// Package enrollment manages learning path enrollments and their audit trail.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

var (
	ErrEnrollmentExists    = errors.New("enrollment exists")
	ErrNotEnrolled         = errors.New("not enrolled")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrUserNotFound        = errors.New("user not found")
	ErrCourseNotInPath     = errors.New("the course is not part of this learning path")
	ErrPrerequisitesNotMet = errors.New("course prerequisites not met")
)

// Store is the persistence the enrollment service needs
type Store interface {
	types.PathSource

	CreateUser(ctx context.Context, username, email string, staff bool) (*types.User, error)
	GetUserByID(ctx context.Context, id int64) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	GetUsersByEmails(ctx context.Context, emails []string) ([]types.User, error)
	ListGroupMembersByGroups(ctx context.Context, groupIDs []int64) ([]types.User, error)

	GetLearningPath(ctx context.Context, id int64) (*types.LearningPath, error)
	GetLearningPathByKey(ctx context.Context, key types.LearningPathKey) (*types.LearningPath, error)
	ListSteps(ctx context.Context, learningPathID int64) ([]types.LearningPathStep, error)

	CreateEnrollment(ctx context.Context, e *types.LearningPathEnrollment) error
	GetEnrollment(ctx context.Context, userID, learningPathID int64) (*types.LearningPathEnrollment, error)
	SetEnrollmentActive(ctx context.Context, e *types.LearningPathEnrollment, active bool) error
	ListEnrollments(ctx context.Context, f storage.EnrollmentFilter) ([]types.LearningPathEnrollment, error)

	CreateAllowedEnrollment(ctx context.Context, a *types.LearningPathEnrollmentAllowed) error
	GetAllowedEnrollment(ctx context.Context, email string, learningPathID int64) (*types.LearningPathEnrollmentAllowed, error)
	UpdateAllowedEnrollment(ctx context.Context, a *types.LearningPathEnrollmentAllowed) error
	ListActiveAllowedForEmail(ctx context.Context, email string) ([]types.LearningPathEnrollmentAllowed, error)
	ListAllowedForPath(ctx context.Context, learningPathID int64) ([]types.LearningPathEnrollmentAllowed, error)

	CreateEnrollmentAudit(ctx context.Context, a *types.LearningPathEnrollmentAudit) error
	LastEnrollmentAudit(ctx context.Context, enrollmentID int64) (*types.LearningPathEnrollmentAudit, error)
	LastAllowedAudit(ctx context.Context, allowedID int64) (*types.LearningPathEnrollmentAudit, error)
	ListEnrollmentAudits(ctx context.Context, f storage.AuditFilter) ([]types.LearningPathEnrollmentAudit, error)
	LinkAllowedAudits(ctx context.Context, allowedID, enrollmentID int64) error
}

// CourseEnroller enrolls learners in the courses of a learning path
type CourseEnroller interface {
	EnrollUserInCourse(ctx context.Context, user *types.User, course types.CourseKey, mode types.EnrollmentMode) (bool, error)
	Unfulfilled(ctx context.Context, userID int64, course types.CourseKey) ([]types.CoursePrerequisite, error)
}

type Options struct {
	AllowSelfUnenrollment bool
}

// Service handles learning path enrollments
type Service struct {
	store   Store
	manager *types.LearningPathManager
	courses CourseEnroller
	opts    Options
}

func NewService(store Store, courses CourseEnroller, opts Options) *Service {
	return &Service{
		store:   store,
		manager: types.NewLearningPathManager(store),
		courses: courses,
		opts:    opts,
	}
}

// Manager returns the visibility manager backed by the service's store
func (s *Service) Manager() *types.LearningPathManager {
	return s.manager
}

// UserRef identifies the user of an enrollment in listings
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// PathRef identifies the learning path of an enrollment in listings
type PathRef struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

// Detail is an enrollment with its user and learning path
type Detail struct {
	User         UserRef   `json:"user"`
	LearningPath PathRef   `json:"learning_path"`
	IsActive     bool      `json:"is_active"`
	Created      time.Time `json:"created"`
}

// resolveTarget returns the user an actor is acting on. Learners may only
// act on themselves.
func (s *Service) resolveTarget(ctx context.Context, actor *types.User, username string) (*types.User, error) {
	if username == "" || username == actor.Username {
		return actor, nil
	}
	if !actor.Staff() {
		return nil, ErrPermissionDenied
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return user, err
}

// Enroll enrolls a user in a learning path visible to the actor. It returns
// the enrollment and whether it was newly created. Reactivating an inactive
// enrollment returns created false; an active enrollment is ErrEnrollmentExists.
func (s *Service) Enroll(ctx context.Context, actor *types.User, key types.LearningPathKey, username string) (*types.LearningPathEnrollment, bool, error) {
	user, err := s.resolveTarget(ctx, actor, username)
	if err != nil {
		return nil, false, err
	}
	path, err := s.manager.GetVisibleToUser(ctx, actor, key)
	if err != nil {
		return nil, false, err
	}

	data := &types.AuditData{EnrolledBy: &actor.ID}
	existing, err := s.store.GetEnrollment(ctx, user.ID, path.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		e := &types.LearningPathEnrollment{UserID: user.ID, LearningPathID: path.ID, IsActive: true}
		if err := s.createEnrollment(ctx, e, data); err != nil {
			return nil, false, err
		}
		return e, true, nil
	case err != nil:
		return nil, false, err
	case existing.IsActive:
		return nil, false, ErrEnrollmentExists
	}

	if err := s.setActive(ctx, existing, true, data); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Unenroll deactivates a user's enrollment. Staff can unenroll anyone;
// learners can unenroll themselves only when self unenrollment is allowed.
func (s *Service) Unenroll(ctx context.Context, actor *types.User, key types.LearningPathKey, username string) (*types.LearningPathEnrollment, error) {
	user, err := s.resolveTarget(ctx, actor, username)
	if err != nil {
		return nil, err
	}
	path, err := s.manager.GetVisibleToUser(ctx, actor, key)
	if err != nil {
		return nil, err
	}

	e, err := s.store.GetEnrollment(ctx, user.ID, path.ID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !e.IsActive) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, err
	}
	if !actor.Staff() && !s.opts.AllowSelfUnenrollment {
		return nil, ErrPermissionDenied
	}

	if err := s.setActive(ctx, e, false, &types.AuditData{EnrolledBy: &actor.ID}); err != nil {
		return nil, err
	}
	return e, nil
}

// ListForPath returns the active enrollments of a learning path. Staff see
// every learner, optionally filtered by username; learners see their own.
func (s *Service) ListForPath(ctx context.Context, actor *types.User, key types.LearningPathKey, username string) ([]Detail, error) {
	if !actor.Staff() && username != "" && username != actor.Username {
		return nil, ErrPermissionDenied
	}
	path, err := s.manager.GetVisibleToUser(ctx, actor, key)
	if err != nil {
		return nil, err
	}

	filter := storage.EnrollmentFilter{LearningPathID: path.ID, ActiveOnly: true}
	if err := s.applyUserFilter(ctx, actor, username, &filter); err != nil {
		return nil, err
	}
	return s.details(ctx, filter)
}

// List returns enrollments across all learning paths. Staff see every
// enrollment, optionally filtered by username; learners see their own.
func (s *Service) List(ctx context.Context, actor *types.User, username string) ([]Detail, error) {
	var filter storage.EnrollmentFilter
	if err := s.applyUserFilter(ctx, actor, username, &filter); err != nil {
		return nil, err
	}
	return s.details(ctx, filter)
}

func (s *Service) applyUserFilter(ctx context.Context, actor *types.User, username string, f *storage.EnrollmentFilter) error {
	if !actor.Staff() {
		f.UserID = actor.ID
		return nil
	}
	if username == "" {
		return nil
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		// Unknown users match nothing
		f.UserID = -1
		return nil
	}
	if err != nil {
		return err
	}
	f.UserID = user.ID
	return nil
}

func (s *Service) details(ctx context.Context, f storage.EnrollmentFilter) ([]Detail, error) {
	enrollments, err := s.store.ListEnrollments(ctx, f)
	if err != nil {
		return nil, err
	}

	users := map[int64]*types.User{}
	paths := map[int64]*types.LearningPath{}
	out := make([]Detail, 0, len(enrollments))
	for _, e := range enrollments {
		u, ok := users[e.UserID]
		if !ok {
			if u, err = s.store.GetUserByID(ctx, e.UserID); err != nil {
				return nil, err
			}
			users[e.UserID] = u
		}
		p, ok := paths[e.LearningPathID]
		if !ok {
			if p, err = s.store.GetLearningPath(ctx, e.LearningPathID); err != nil {
				return nil, err
			}
			paths[e.LearningPathID] = p
		}
		out = append(out, Detail{
			User:         UserRef{ID: u.ID, Username: u.Username, Email: u.Email},
			LearningPath: PathRef{ID: p.ID, Key: p.Key.String(), DisplayName: p.DisplayName},
			IsActive:     e.IsActive,
			Created:      e.Created,
		})
	}
	return out, nil
}

// Audits returns the audit trail of a user's enrollment in a learning path
func (s *Service) Audits(ctx context.Context, key types.LearningPathKey, username string) ([]types.LearningPathEnrollmentAudit, error) {
	path, err := s.store.GetLearningPathByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetEnrollment(ctx, user.ID, path.ID)
	if err != nil {
		return nil, err
	}
	return s.store.ListEnrollmentAudits(ctx, storage.AuditFilter{EnrollmentID: e.ID})
}

// Pending returns the active allowed enrollments of a learning path, the
// emails waiting for an account to be registered
func (s *Service) Pending(ctx context.Context, key types.LearningPathKey) ([]types.LearningPathEnrollmentAllowed, error) {
	path, err := s.store.GetLearningPathByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListAllowedForPath(ctx, path.ID)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, a := range all {
		if a.IsActive {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

// EnrollInCourse enrolls an actor who is enrolled in a learning path into
// one of its courses. It returns false if the actor was already enrolled in
// the course.
func (s *Service) EnrollInCourse(ctx context.Context, actor *types.User, key types.LearningPathKey, course types.CourseKey) (bool, error) {
	path, err := s.manager.GetVisibleToUser(ctx, actor, key)
	if err != nil {
		return false, err
	}
	if path.EnrollmentDate == nil {
		return false, fmt.Errorf("%w: %s", types.ErrLearningPathNotFound, key)
	}

	steps, err := s.store.ListSteps(ctx, path.ID)
	if err != nil {
		return false, err
	}
	found := false
	for _, step := range steps {
		if step.CourseKey == course {
			found = true
			break
		}
	}
	if !found {
		return false, ErrCourseNotInPath
	}

	missing, err := s.courses.Unfulfilled(ctx, actor.ID, course)
	if err != nil {
		return false, err
	}
	if len(missing) > 0 {
		return false, fmt.Errorf("%w: %s requires %s", ErrPrerequisitesNotMet, course, missing[0].RequiredCourse)
	}

	return s.courses.EnrollUserInCourse(ctx, actor, course, types.ModeAudit)
}

// ----- Audit trail -----

// createEnrollment saves a new enrollment and audits it
func (s *Service) createEnrollment(ctx context.Context, e *types.LearningPathEnrollment, data *types.AuditData) error {
	if err := s.store.CreateEnrollment(ctx, e); err != nil {
		return err
	}
	return s.auditEnrollment(ctx, e, true, false, data)
}

// setActive saves an enrollment's active flag and audits the transition
func (s *Service) setActive(ctx context.Context, e *types.LearningPathEnrollment, active bool, data *types.AuditData) error {
	wasActive := e.IsActive
	if err := s.store.SetEnrollmentActive(ctx, e, active); err != nil {
		return err
	}
	return s.auditEnrollment(ctx, e, false, wasActive, data)
}

// auditEnrollment records an enrollment save. The transition is derived from
// the active flags unless data names one; empty reason, org and role are
// copied from the enrollment's previous audit.
func (s *Service) auditEnrollment(ctx context.Context, e *types.LearningPathEnrollment, created, wasActive bool, data *types.AuditData) error {
	d := types.AuditData{}
	if data != nil {
		d = *data
	}
	if d.StateTransition == "" {
		d.StateTransition = types.TransitionFor(created, wasActive, e.IsActive)
	}

	prev, err := s.store.LastEnrollmentAudit(ctx, e.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	d.InheritFrom(prev)

	return s.store.CreateEnrollmentAudit(ctx, &types.LearningPathEnrollmentAudit{
		EnrolledBy:      d.EnrolledBy,
		EnrollmentID:    &e.ID,
		StateTransition: d.StateTransition,
		Reason:          d.Reason,
		Org:             d.Org,
		Role:            d.Role,
	})
}

// saveAllowed saves an allowed enrollment. An audit is written only when
// audit data is given.
func (s *Service) saveAllowed(ctx context.Context, a *types.LearningPathEnrollmentAllowed, data *types.AuditData) error {
	if err := s.store.UpdateAllowedEnrollment(ctx, a); err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	d := *data
	if d.StateTransition == "" {
		d.StateTransition = types.UnenrolledToAllowedToEnroll
	}
	prev, err := s.store.LastAllowedAudit(ctx, a.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	d.InheritFrom(prev)

	return s.store.CreateEnrollmentAudit(ctx, &types.LearningPathEnrollmentAudit{
		EnrolledBy:          d.EnrolledBy,
		EnrollmentAllowedID: &a.ID,
		StateTransition:     d.StateTransition,
		Reason:              d.Reason,
		Org:                 d.Org,
		Role:                d.Role,
	})
}

// ----- Registration -----

// Register creates a user account and processes the pending enrollments of
// its email address
func (s *Service) Register(ctx context.Context, username, email string, staff bool) (*types.User, int, error) {
	user, err := s.store.CreateUser(ctx, username, email, staff)
	if err != nil {
		return nil, 0, err
	}
	n, err := s.ProcessPendingEnrollments(ctx, user)
	return user, n, err
}

// ProcessPendingEnrollments turns the active allowed enrollments of a new
// user's email into enrollments. Prior audits of each allowed enrollment are
// linked to the new enrollment, and the allowed record is deactivated and
// bound to the user.
func (s *Service) ProcessPendingEnrollments(ctx context.Context, user *types.User) (int, error) {
	log := logger.L()
	log.Info("[LearningPaths] Processing pending enrollments", "user", user.Username)

	pending, err := s.store.ListActiveAllowedForEmail(ctx, user.Email)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range pending {
		entry := &pending[i]
		ok, err := s.convertAllowed(ctx, user, entry)
		if ok {
			created++
		}

		// The allowed record is retired even when the conversion failed
		entry.IsActive = false
		entry.UserID = &user.ID
		if saveErr := s.saveAllowed(ctx, entry, nil); saveErr != nil {
			return created, errors.Join(err, saveErr)
		}
		if err != nil {
			return created, err
		}
	}

	log.Info("[LearningPaths] Processed pending enrollments", "count", created, "user", user.Username)
	return created, nil
}

func (s *Service) convertAllowed(ctx context.Context, user *types.User, entry *types.LearningPathEnrollmentAllowed) (bool, error) {
	data := &types.AuditData{
		EnrolledBy:      &user.ID,
		StateTransition: types.AllowedToEnrollToEnrolled,
	}
	last, err := s.store.LastAllowedAudit(ctx, entry.ID)
	switch {
	case err == nil:
		data.Reason, data.Org, data.Role = last.Reason, last.Org, last.Role
	case !errors.Is(err, storage.ErrNotFound):
		return false, err
	}

	e := &types.LearningPathEnrollment{UserID: user.ID, LearningPathID: entry.LearningPathID, IsActive: true}
	if err := s.createEnrollment(ctx, e, data); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			logger.L().Info("[LearningPaths] Enrollment already exists",
				"user", user.Username, "learning_path_id", entry.LearningPathID)
			return false, nil
		}
		return false, err
	}

	if err := s.store.LinkAllowedAudits(ctx, entry.ID, e.ID); err != nil {
		return false, err
	}
	return true, nil
}
