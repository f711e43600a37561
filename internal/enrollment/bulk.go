package enrollment

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"

	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

// BulkRequest enrolls or unenrolls many learners in many learning paths.
// List fields are comma separated.
type BulkRequest struct {
	LearningPaths string `json:"learning_paths"`
	Emails        string `json:"emails"`
	GroupIDs      string `json:"group_ids"`
	Reason        string `json:"reason"`
	Org           string `json:"org"`
	Role          string `json:"role"`
}

type BulkEnrollResult struct {
	EnrollmentsCreated       int `json:"enrollments_created"`
	EnrollmentAllowedCreated int `json:"enrollment_allowed_created"`
}

type BulkUnenrollResult struct {
	EnrollmentsUnenrolled        int `json:"enrollments_unenrolled"`
	EnrollmentAllowedDeactivated int `json:"enrollment_allowed_deactivated"`
}

// bulkTargets is the resolved input of a bulk operation
type bulkTargets struct {
	paths  []types.LearningPath
	users  []types.User
	emails []string
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseGroupIDs parses a comma separated list of group IDs. A malformed list
// is ignored as a whole.
func parseGroupIDs(s string) []int64 {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			logger.L().Warn("[LearningPaths] Invalid group_ids format", "group_ids", s)
			return nil
		}
		ids = append(ids, id)
	}
	return ids
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *Service) resolveBulk(ctx context.Context, req BulkRequest) (*bulkTargets, error) {
	log := logger.L()
	t := &bulkTargets{}

	for _, raw := range splitList(req.LearningPaths) {
		key, err := types.ParseLearningPathKey(raw)
		if err != nil {
			log.Warn("[LearningPaths] Invalid learning path key", "key", raw)
			continue
		}
		path, err := s.store.GetLearningPathByKey(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		t.paths = append(t.paths, *path)
	}

	seen := map[string]bool{}
	addEmail := func(email string) {
		if k := strings.ToLower(email); !seen[k] {
			seen[k] = true
			t.emails = append(t.emails, email)
		}
	}
	for _, email := range splitList(req.Emails) {
		addEmail(email)
	}

	if groupIDs := parseGroupIDs(req.GroupIDs); len(groupIDs) > 0 {
		members, err := s.store.ListGroupMembersByGroups(ctx, groupIDs)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			addEmail(m.Email)
		}
	}

	users, err := s.store.GetUsersByEmails(ctx, t.emails)
	if err != nil {
		return nil, err
	}
	t.users = users
	return t, nil
}

// nonUserEmails returns the target emails no account exists for
func (t *bulkTargets) nonUserEmails() []string {
	known := map[string]bool{}
	for _, u := range t.users {
		known[strings.ToLower(u.Email)] = true
	}
	var out []string
	for _, e := range t.emails {
		if !known[strings.ToLower(e)] {
			out = append(out, e)
		}
	}
	return out
}

func auditData(actor *types.User, req BulkRequest, transition types.StateTransition) *types.AuditData {
	return &types.AuditData{
		EnrolledBy:      &actor.ID,
		StateTransition: transition,
		Reason:          req.Reason,
		Org:             req.Org,
		Role:            req.Role,
	}
}

// BulkEnroll enrolls existing users and records allowed enrollments for
// emails without an account. Invalid keys and emails are skipped.
func (s *Service) BulkEnroll(ctx context.Context, actor *types.User, req BulkRequest) (*BulkEnrollResult, error) {
	if !actor.Staff() {
		return nil, ErrPermissionDenied
	}
	t, err := s.resolveBulk(ctx, req)
	if err != nil {
		return nil, err
	}
	nonUsers := t.nonUserEmails()
	result := &BulkEnrollResult{}

	for _, path := range t.paths {
		for _, user := range t.users {
			e, err := s.store.GetEnrollment(ctx, user.ID, path.ID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				e = &types.LearningPathEnrollment{UserID: user.ID, LearningPathID: path.ID, IsActive: true}
				if err := s.createEnrollment(ctx, e, auditData(actor, req, types.UnenrolledToEnrolled)); err != nil {
					return nil, err
				}
				result.EnrollmentsCreated++
			case err != nil:
				return nil, err
			case e.IsActive:
				if err := s.setActive(ctx, e, true, auditData(actor, req, types.EnrolledToEnrolled)); err != nil {
					return nil, err
				}
			default:
				if err := s.setActive(ctx, e, true, auditData(actor, req, types.UnenrolledToEnrolled)); err != nil {
					return nil, err
				}
				result.EnrollmentsCreated++
			}
		}

		for _, email := range nonUsers {
			if !validEmail(email) {
				logger.L().Warn("[LearningPaths] Invalid email", "email", email)
				continue
			}
			allowed, created, err := s.getOrCreateAllowed(ctx, email, path.ID)
			if err != nil {
				return nil, err
			}
			if created || (allowed.UserID == nil && !allowed.IsActive) {
				allowed.IsActive = true
				result.EnrollmentAllowedCreated++
			}
			if err := s.saveAllowed(ctx, allowed, auditData(actor, req, types.UnenrolledToAllowedToEnroll)); err != nil {
				return nil, err
			}
		}
	}

	logger.L().Info("[LearningPaths] Bulk enrollment complete",
		"enrollments_created", result.EnrollmentsCreated,
		"enrollment_allowed_created", result.EnrollmentAllowedCreated)
	return result, nil
}

func (s *Service) getOrCreateAllowed(ctx context.Context, email string, learningPathID int64) (*types.LearningPathEnrollmentAllowed, bool, error) {
	allowed, err := s.store.GetAllowedEnrollment(ctx, email, learningPathID)
	if err == nil {
		return allowed, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}
	allowed = &types.LearningPathEnrollmentAllowed{Email: email, LearningPathID: learningPathID, IsActive: true}
	if err := s.store.CreateAllowedEnrollment(ctx, allowed); err != nil {
		return nil, false, err
	}
	return allowed, true, nil
}

// BulkUnenroll deactivates the enrollments of existing users and the active
// allowed enrollments of the given emails
func (s *Service) BulkUnenroll(ctx context.Context, actor *types.User, req BulkRequest) (*BulkUnenrollResult, error) {
	if !actor.Staff() {
		return nil, ErrPermissionDenied
	}
	t, err := s.resolveBulk(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &BulkUnenrollResult{}

	for _, path := range t.paths {
		for _, user := range t.users {
			e, err := s.store.GetEnrollment(ctx, user.ID, path.ID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			transition := types.UnenrolledToUnenrolled
			if e.IsActive {
				transition = types.EnrolledToUnenrolled
				result.EnrollmentsUnenrolled++
			}
			if err := s.setActive(ctx, e, false, auditData(actor, req, transition)); err != nil {
				return nil, err
			}
		}

		for _, email := range t.emails {
			if !validEmail(email) {
				logger.L().Warn("[LearningPaths] Invalid email", "email", email)
				continue
			}
			allowed, err := s.store.GetAllowedEnrollment(ctx, email, path.ID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			transition := types.UnenrolledToUnenrolled
			if allowed.IsActive {
				transition = types.AllowedToEnrollToUnenrolled
				allowed.IsActive = false
				result.EnrollmentAllowedDeactivated++
			}
			if err := s.saveAllowed(ctx, allowed, auditData(actor, req, transition)); err != nil {
				return nil, err
			}
		}
	}

	logger.L().Info("[LearningPaths] Bulk unenrollment complete",
		"enrollments_unenrolled", result.EnrollmentsUnenrolled,
		"enrollment_allowed_deactivated", result.EnrollmentAllowedDeactivated)
	return result, nil
}
