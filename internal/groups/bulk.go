package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

// BulkRequest enrolls the members of groups into courses. List fields are
// comma separated.
type BulkRequest struct {
	GroupIDs         string               `json:"group_ids"`
	CourseIDs        string               `json:"course_ids"`
	EnrollmentMode   types.EnrollmentMode `json:"enrollment_mode"`
	CreateAssignment bool                 `json:"create_assignment"`
	AutoEnroll       *bool                `json:"auto_enroll"`
	Reason           string               `json:"reason"`
	Org              string               `json:"org"`
	Role             string               `json:"role"`
}

type BulkResult struct {
	EnrollmentsCreated int `json:"enrollments_created"`
	EnrollmentsSkipped int `json:"enrollments_skipped"`
	EnrollmentsFailed  int `json:"enrollments_failed"`
	AssignmentsCreated int `json:"assignments_created"`
	AuditRecordsCount  int `json:"audit_records_count"`
}

// SyncRequest re-applies group assignments to current group members.
// Without AssignmentIDs every active auto-enroll assignment is synced.
type SyncRequest struct {
	AssignmentIDs   string `json:"assignment_ids"`
	RemoveExMembers bool   `json:"remove_ex_members"`
	Reason          string `json:"reason"`
	Org             string `json:"org"`
}

type SyncResult struct {
	AssignmentsSynced  int `json:"assignments_synced"`
	EnrollmentsAdded   int `json:"enrollments_added"`
	EnrollmentsRemoved int `json:"enrollments_removed"`
	EnrollmentsSkipped int `json:"enrollments_skipped"`
}

// BulkEnrollGroupToCourse enrolls every member of the given groups in the
// given courses. With CreateAssignment set, an assignment is created for each
// group and course, or reactivated when it exists.
func (s *Service) BulkEnrollGroupToCourse(ctx context.Context, actor *types.User, req BulkRequest) (*BulkResult, error) {
	log := logger.L()

	groupIDs, err := parseIDs("group_ids", req.GroupIDs)
	if err != nil {
		return nil, err
	}
	var courses []types.CourseKey
	for _, raw := range splitList(req.CourseIDs) {
		key, err := types.ParseCourseKey(raw)
		if err != nil {
			log.Warn("[GroupEnrollment] Invalid course key", "course", raw)
			continue
		}
		courses = append(courses, key)
	}
	if len(groupIDs) == 0 || len(courses) == 0 {
		return nil, fmt.Errorf("%w: both group_ids and course_ids are required", ErrInvalidRequest)
	}

	mode := req.EnrollmentMode
	if mode == "" {
		mode = types.ModeAudit
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: invalid enrollment mode %q", ErrInvalidRequest, mode)
	}
	autoEnroll := true
	if req.AutoEnroll != nil {
		autoEnroll = *req.AutoEnroll
	}

	result := &BulkResult{}
	for _, groupID := range groupIDs {
		group, err := s.store.GetGroup(ctx, groupID)
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("[GroupEnrollment] Unknown group", "group_id", groupID)
			continue
		}
		if err != nil {
			return nil, err
		}
		members, err := s.store.ListGroupMembers(ctx, group.ID)
		if err != nil {
			return nil, err
		}

		for _, course := range courses {
			var assignmentID *int64
			if req.CreateAssignment {
				a, created, err := s.ensureAssignment(ctx, actor, group.ID, course, mode, autoEnroll, req.Reason)
				if err != nil {
					return nil, err
				}
				if created {
					result.AssignmentsCreated++
				}
				assignmentID = &a.ID
			}

			for i := range members {
				u := &members[i]
				audit := &types.GroupCourseEnrollmentAudit{
					AssignmentID: assignmentID,
					UserID:       &u.ID,
					Email:        u.Email,
					EnrolledBy:   &actor.ID,
					Reason:       req.Reason,
					Org:          req.Org,
					Role:         req.Role,
				}
				changed, err := s.courses.EnrollUserInCourse(ctx, u, course, mode)
				switch {
				case err != nil:
					log.Error("[GroupEnrollment] Failed to enroll user in course",
						"user", u.Username, "course", course.String(), "error", err)
					audit.Status = types.GroupEnrollmentFailed
					audit.ErrorMessage = err.Error()
					result.EnrollmentsFailed++
				case changed:
					audit.Status = types.GroupEnrollmentSuccess
					result.EnrollmentsCreated++
				default:
					audit.Status = types.GroupEnrollmentSkipped
					audit.ErrorMessage = "already enrolled"
					result.EnrollmentsSkipped++
				}
				if err := s.store.CreateGroupAudit(ctx, audit); err != nil {
					return nil, fmt.Errorf("failed to record group audit: %w", err)
				}
				result.AuditRecordsCount++
			}
		}
	}

	log.Info("[GroupEnrollment] Bulk group enrollment complete",
		"created", result.EnrollmentsCreated, "skipped", result.EnrollmentsSkipped,
		"failed", result.EnrollmentsFailed, "assignments", result.AssignmentsCreated)
	return result, nil
}

func (s *Service) ensureAssignment(ctx context.Context, actor *types.User, groupID int64, course types.CourseKey,
	mode types.EnrollmentMode, autoEnroll bool, reason string) (*types.GroupCourseAssignment, bool, error) {
	a, err := s.store.GetAssignmentFor(ctx, groupID, course)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a = types.NewGroupCourseAssignment(groupID, course)
		a.EnrollmentMode = mode
		a.AutoEnroll = autoEnroll
		a.AssignedBy = &actor.ID
		a.Reason = reason
		if err := s.store.CreateAssignment(ctx, a); err != nil {
			return nil, false, err
		}
		return a, true, nil
	case err != nil:
		return nil, false, err
	case !a.IsActive:
		a.IsActive = true
		if err := s.store.UpdateAssignment(ctx, a); err != nil {
			return nil, false, err
		}
	}
	return a, false, nil
}

// SyncGroupEnrollments enrolls current group members that are missing from
// the assigned courses. With RemoveExMembers set, users this assignment
// enrolled who have since left the group are unenrolled.
func (s *Service) SyncGroupEnrollments(ctx context.Context, actor *types.User, req SyncRequest) (*SyncResult, error) {
	log := logger.L()
	reason := req.Reason
	if reason == "" {
		reason = "Enrollment sync"
	}

	ids, err := parseIDs("assignment_ids", req.AssignmentIDs)
	if err != nil {
		return nil, err
	}
	filter := storage.AssignmentFilter{ActiveOnly: true}
	if len(ids) > 0 {
		filter.IDs = ids
	} else {
		filter.AutoEnrollOnly = true
	}
	assignments, err := s.store.ListAssignments(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{AssignmentsSynced: len(assignments)}
	for i := range assignments {
		a := &assignments[i]
		members, err := s.store.ListGroupMembers(ctx, a.GroupID)
		if err != nil {
			return nil, err
		}

		current := make(map[int64]bool, len(members))
		for j := range members {
			u := &members[j]
			current[u.ID] = true
			audit := &types.GroupCourseEnrollmentAudit{
				AssignmentID: &a.ID,
				UserID:       &u.ID,
				Email:        u.Email,
				EnrolledBy:   &actor.ID,
				Reason:       reason,
				Org:          req.Org,
			}
			changed, err := s.courses.EnrollUserInCourse(ctx, u, a.CourseKey, a.EnrollmentMode)
			switch {
			case err != nil:
				log.Error("[GroupEnrollment] Sync failed to enroll user",
					"user", u.Username, "course", a.CourseKey.String(), "error", err)
				audit.Status = types.GroupEnrollmentFailed
				audit.ErrorMessage = err.Error()
			case changed:
				audit.Status = types.GroupEnrollmentSuccess
				result.EnrollmentsAdded++
			default:
				audit.Status = types.GroupEnrollmentSkipped
				audit.Reason = reason + " - already enrolled"
				result.EnrollmentsSkipped++
			}
			if err := s.store.CreateGroupAudit(ctx, audit); err != nil {
				return nil, fmt.Errorf("failed to record group audit: %w", err)
			}
		}

		if req.RemoveExMembers {
			removed, err := s.removeExMembers(ctx, actor, a, current, reason, req.Org)
			if err != nil {
				return nil, err
			}
			result.EnrollmentsRemoved += removed
		}
	}

	log.Info("[GroupEnrollment] Sync complete",
		"assignments", result.AssignmentsSynced, "added", result.EnrollmentsAdded,
		"removed", result.EnrollmentsRemoved, "skipped", result.EnrollmentsSkipped)
	return result, nil
}

// removeExMembers unenrolls users the assignment successfully enrolled who
// are no longer members of its group
func (s *Service) removeExMembers(ctx context.Context, actor *types.User, a *types.GroupCourseAssignment,
	current map[int64]bool, reason, org string) (int, error) {
	audits, err := s.store.ListGroupAudits(ctx, storage.GroupAuditFilter{
		AssignmentID: a.ID,
		Status:       types.GroupEnrollmentSuccess,
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	seen := map[int64]bool{}
	for _, audit := range audits {
		if audit.UserID == nil || current[*audit.UserID] || seen[*audit.UserID] {
			continue
		}
		seen[*audit.UserID] = true
		u, err := s.store.GetUserByID(ctx, *audit.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		changed, err := s.courses.UnenrollUserFromCourse(ctx, u, a.CourseKey)
		if err != nil {
			return 0, err
		}
		if !changed {
			continue
		}
		removed++
		err = s.store.CreateGroupAudit(ctx, &types.GroupCourseEnrollmentAudit{
			AssignmentID: &a.ID,
			UserID:       &u.ID,
			Email:        u.Email,
			EnrolledBy:   &actor.ID,
			Status:       types.GroupEnrollmentSuccess,
			Reason:       reason + " - no longer a group member",
			Org:          org,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to record group audit: %w", err)
		}
	}
	return removed, nil
}
