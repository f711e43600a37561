// Package groups assigns user groups to courses and keeps the course
// enrollments of group members in step with their membership.
package groups

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

var (
	ErrGroupNotFound      = errors.New("group not found")
	ErrAssignmentNotFound = errors.New("group course assignment not found")
	ErrAssignmentExists   = errors.New("group is already assigned to this course")
	ErrInvalidRequest     = errors.New("invalid request")
)

// Store is the persistence the group service needs
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*types.User, error)

	CreateGroup(ctx context.Context, name string) (*types.Group, error)
	GetGroup(ctx context.Context, id int64) (*types.Group, error)
	ListGroups(ctx context.Context) ([]types.Group, error)
	DeleteGroup(ctx context.Context, id int64) error
	AddGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
	RemoveGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]types.User, error)

	CreateAssignment(ctx context.Context, a *types.GroupCourseAssignment) error
	GetAssignment(ctx context.Context, id int64) (*types.GroupCourseAssignment, error)
	GetAssignmentFor(ctx context.Context, groupID int64, course types.CourseKey) (*types.GroupCourseAssignment, error)
	UpdateAssignment(ctx context.Context, a *types.GroupCourseAssignment) error
	DeleteAssignment(ctx context.Context, id int64) error
	ListAssignments(ctx context.Context, f storage.AssignmentFilter) ([]types.GroupCourseAssignment, error)

	CreateGroupAudit(ctx context.Context, a *types.GroupCourseEnrollmentAudit) error
	ListGroupAudits(ctx context.Context, f storage.GroupAuditFilter) ([]types.GroupCourseEnrollmentAudit, error)
}

// CourseEnroller enrolls group members in courses
type CourseEnroller interface {
	EnrollUserInCourse(ctx context.Context, user *types.User, course types.CourseKey, mode types.EnrollmentMode) (bool, error)
	UnenrollUserFromCourse(ctx context.Context, user *types.User, course types.CourseKey) (bool, error)
}

// Service manages groups, their course assignments and the resulting
// course enrollments
type Service struct {
	store   Store
	courses CourseEnroller
}

func NewService(store Store, courses CourseEnroller) *Service {
	return &Service{store: store, courses: courses}
}

func notFound(err, sentinel error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return sentinel
	}
	return err
}

// ----- Groups -----

func (s *Service) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidRequest)
	}
	return s.store.CreateGroup(ctx, name)
}

func (s *Service) Group(ctx context.Context, id int64) (*types.Group, error) {
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrGroupNotFound)
	}
	return g, nil
}

func (s *Service) Groups(ctx context.Context) ([]types.Group, error) {
	return s.store.ListGroups(ctx)
}

// DeleteGroup deletes a group. Its assignments are deleted first so members
// are unenrolled from the assigned courses.
func (s *Service) DeleteGroup(ctx context.Context, id int64) error {
	if _, err := s.Group(ctx, id); err != nil {
		return err
	}
	assignments, err := s.store.ListAssignments(ctx, storage.AssignmentFilter{GroupID: id})
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if err := s.DeleteAssignment(ctx, a.ID); err != nil {
			return err
		}
	}
	return notFound(s.store.DeleteGroup(ctx, id), ErrGroupNotFound)
}

func (s *Service) Members(ctx context.Context, groupID int64) ([]types.User, error) {
	if _, err := s.Group(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.ListGroupMembers(ctx, groupID)
}

// MembershipResult counts the course operations a membership change caused
type MembershipResult struct {
	Changed    int `json:"members_changed"`
	Successful int `json:"operations_successful"`
	Failed     int `json:"operations_failed"`
}

func (s *Service) users(ctx context.Context, ids []int64) ([]types.User, error) {
	users := make([]types.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.store.GetUserByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", id, err)
		}
		users = append(users, *u)
	}
	return users, nil
}

// AddMembers adds users to a group and enrolls the new members in the
// courses of its active auto-enroll assignments
func (s *Service) AddMembers(ctx context.Context, groupID int64, userIDs []int64) (*MembershipResult, error) {
	group, err := s.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	users, err := s.users(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	var added []types.User
	for _, u := range users {
		ok, err := s.store.AddGroupMember(ctx, group.ID, u.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			added = append(added, u)
		}
	}

	result, err := s.membershipChanged(ctx, group, added, true)
	if err != nil {
		return nil, err
	}
	result.Changed = len(added)
	return result, nil
}

// RemoveMembers removes users from a group and unenrolls them from the
// courses of all its active assignments
func (s *Service) RemoveMembers(ctx context.Context, groupID int64, userIDs []int64) (*MembershipResult, error) {
	group, err := s.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	users, err := s.users(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	var removed []types.User
	for _, u := range users {
		ok, err := s.store.RemoveGroupMember(ctx, group.ID, u.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			removed = append(removed, u)
		}
	}

	result, err := s.membershipChanged(ctx, group, removed, false)
	if err != nil {
		return nil, err
	}
	result.Changed = len(removed)
	return result, nil
}

// membershipChanged applies the group's assignments to users who just
// joined or left it. Each (assignment, user) pair gets one audit.
func (s *Service) membershipChanged(ctx context.Context, group *types.Group, users []types.User, enrolling bool) (*MembershipResult, error) {
	log := logger.L()
	result := &MembershipResult{}
	if len(users) == 0 {
		return result, nil
	}

	action := "unenrollment"
	filter := storage.AssignmentFilter{GroupID: group.ID, ActiveOnly: true}
	if enrolling {
		action = "enrollment"
		filter.AutoEnrollOnly = true
	}
	assignments, err := s.store.ListAssignments(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		log.Debug("[GroupEnrollment] No active assignments for group, skipping auto-"+action, "group", group.Name)
		return result, nil
	}

	log.Info("[GroupEnrollment] Applying group assignments",
		"action", action, "users", len(users), "courses", len(assignments), "group", group.Name)

	for i := range assignments {
		a := &assignments[i]
		for j := range users {
			u := &users[j]
			var changed bool
			var reason string
			if enrolling {
				reason = "Auto-enrollment via group membership in " + group.Name
				changed, err = s.courses.EnrollUserInCourse(ctx, u, a.CourseKey, a.EnrollmentMode)
			} else {
				reason = "Auto-unenrollment via group removal from " + group.Name
				changed, err = s.courses.UnenrollUserFromCourse(ctx, u, a.CourseKey)
			}

			audit := &types.GroupCourseEnrollmentAudit{
				AssignmentID: &a.ID,
				UserID:       &u.ID,
				Email:        u.Email,
				EnrolledBy:   &u.ID,
				Reason:       reason,
			}
			switch {
			case err != nil:
				log.Error("[GroupEnrollment] Failed to apply assignment",
					"action", action, "user", u.Username, "course", a.CourseKey.String(), "error", err)
				audit.Status = types.GroupEnrollmentFailed
				audit.ErrorMessage = err.Error()
				result.Failed++
			case changed:
				audit.Status = types.GroupEnrollmentSuccess
				result.Successful++
			default:
				audit.Status = types.GroupEnrollmentSkipped
			}
			if err := s.store.CreateGroupAudit(ctx, audit); err != nil {
				return nil, fmt.Errorf("failed to record group audit: %w", err)
			}
		}
	}

	log.Info("[GroupEnrollment] Auto-"+action+" complete",
		"successful", result.Successful, "failed", result.Failed)
	return result, nil
}

// ----- Assignments -----

// CreateAssignment assigns a group to a course. Existing members are not
// enrolled; use BulkEnrollGroupToCourse or SyncGroupEnrollments for that.
func (s *Service) CreateAssignment(ctx context.Context, actor *types.User, a *types.GroupCourseAssignment) error {
	if _, err := s.Group(ctx, a.GroupID); err != nil {
		return err
	}
	if a.EnrollmentMode == "" {
		a.EnrollmentMode = types.ModeAudit
	}
	if actor != nil {
		a.AssignedBy = &actor.ID
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	err := s.store.CreateAssignment(ctx, a)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return ErrAssignmentExists
	}
	if err != nil {
		return err
	}
	created, err := s.store.GetAssignment(ctx, a.ID)
	if err != nil {
		return err
	}
	*a = *created
	return nil
}

func (s *Service) Assignment(ctx context.Context, id int64) (*types.GroupCourseAssignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrAssignmentNotFound)
	}
	return a, nil
}

func (s *Service) Assignments(ctx context.Context, f storage.AssignmentFilter) ([]types.GroupCourseAssignment, error) {
	return s.store.ListAssignments(ctx, f)
}

// UpdateAssignment saves an assignment's mode, flags and reason
func (s *Service) UpdateAssignment(ctx context.Context, a *types.GroupCourseAssignment) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return notFound(s.store.UpdateAssignment(ctx, a), ErrAssignmentNotFound)
}

// DeleteAssignment deletes an assignment and unenrolls every group member
// from its course. The audits are system-initiated and no longer reference
// the assignment.
func (s *Service) DeleteAssignment(ctx context.Context, id int64) error {
	log := logger.L()
	a, err := s.Assignment(ctx, id)
	if err != nil {
		return err
	}
	members, err := s.store.ListGroupMembers(ctx, a.GroupID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAssignment(ctx, a.ID); err != nil {
		return notFound(err, ErrAssignmentNotFound)
	}

	log.Info("[GroupEnrollment] Assignment deleted, unenrolling group members",
		"group", a.GroupName, "course", a.CourseKey.String())

	reason := fmt.Sprintf("Auto-unenrollment due to deletion of group-course assignment: %s → %s", a.GroupName, a.CourseKey)
	var successful, failed int
	for i := range members {
		u := &members[i]
		audit := &types.GroupCourseEnrollmentAudit{UserID: &u.ID, Email: u.Email, Reason: reason}
		changed, err := s.courses.UnenrollUserFromCourse(ctx, u, a.CourseKey)
		switch {
		case err != nil:
			log.Error("[GroupEnrollment] Failed to unenroll during assignment deletion",
				"user", u.Username, "course", a.CourseKey.String(), "error", err)
			audit.Status = types.GroupEnrollmentFailed
			audit.ErrorMessage = err.Error()
			failed++
		case changed:
			audit.Status = types.GroupEnrollmentSuccess
			successful++
		default:
			audit.Status = types.GroupEnrollmentSkipped
		}
		if err := s.store.CreateGroupAudit(ctx, audit); err != nil {
			return fmt.Errorf("failed to record group audit: %w", err)
		}
	}

	log.Info("[GroupEnrollment] Assignment deletion unenrollment complete",
		"successful", successful, "failed", failed)
	return nil
}

// Audits returns group enrollment audits newest first
func (s *Service) Audits(ctx context.Context, f storage.GroupAuditFilter) ([]types.GroupCourseEnrollmentAudit, error) {
	return s.store.ListGroupAudits(ctx, f)
}

// ----- Bulk operations -----

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(field, s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s format, must be comma-separated integers", ErrInvalidRequest, field)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
