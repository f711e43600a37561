package types

import (
	"fmt"
	"time"
)

// Group is a platform-wide set of users that can be assigned to courses
type Group struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"member_count"`
}

// EnrollmentMode is the course enrollment mode granted to group members
type EnrollmentMode string

const (
	ModeAudit            EnrollmentMode = "audit"
	ModeVerified         EnrollmentMode = "verified"
	ModeProfessional     EnrollmentMode = "professional"
	ModeNoIDProfessional EnrollmentMode = "no-id-professional"
	ModeCredit           EnrollmentMode = "credit"
	ModeHonor            EnrollmentMode = "honor"
)

// EnrollmentModeChoices lists the valid modes in display order
var EnrollmentModeChoices = []EnrollmentMode{
	ModeAudit,
	ModeVerified,
	ModeProfessional,
	ModeNoIDProfessional,
	ModeCredit,
	ModeHonor,
}

func (m EnrollmentMode) Valid() bool {
	for _, c := range EnrollmentModeChoices {
		if c == m {
			return true
		}
	}
	return false
}

// GroupCourseAssignment assigns a group to a course so its members are
// enrolled in bulk and new members can be enrolled as they join.
// There is at most one assignment per group and course.
type GroupCourseAssignment struct {
	ID             int64          `json:"id"`
	GroupID        int64          `json:"group_id"`
	GroupName      string         `json:"group_name,omitempty"`
	CourseKey      CourseKey      `json:"course_id"`
	EnrollmentMode EnrollmentMode `json:"enrollment_mode"`
	AutoEnroll     bool           `json:"auto_enroll"`
	AssignedBy     *int64         `json:"assigned_by"`
	Reason         string         `json:"reason"`
	IsActive       bool           `json:"is_active"`
	Created        time.Time      `json:"created"`
	Modified       time.Time      `json:"modified"`
}

// NewGroupCourseAssignment returns an active auto-enrolling audit-mode assignment
func NewGroupCourseAssignment(groupID int64, course CourseKey) *GroupCourseAssignment {
	return &GroupCourseAssignment{
		GroupID:        groupID,
		CourseKey:      course,
		EnrollmentMode: ModeAudit,
		AutoEnroll:     true,
		IsActive:       true,
	}
}

func (a *GroupCourseAssignment) String() string {
	group := a.GroupName
	if group == "" {
		group = fmt.Sprint(a.GroupID)
	}
	return fmt.Sprintf("%s → %s (%s)", group, a.CourseKey, a.EnrollmentMode)
}

func (a *GroupCourseAssignment) Validate() error {
	if a.CourseKey.IsZero() {
		return ErrEmptyCourseKey
	}
	if !a.EnrollmentMode.Valid() {
		return fmt.Errorf("invalid enrollment mode %q", a.EnrollmentMode)
	}
	return nil
}

// GroupEnrollmentStatus is the outcome of one group enrollment operation
type GroupEnrollmentStatus string

const (
	GroupEnrollmentSuccess GroupEnrollmentStatus = "success"
	GroupEnrollmentFailed  GroupEnrollmentStatus = "failed"
	GroupEnrollmentSkipped GroupEnrollmentStatus = "skipped"
)

// GroupCourseEnrollmentAudit tracks an individual enrollment performed for a
// group course assignment. AssignmentID is nil once the assignment is deleted.
type GroupCourseEnrollmentAudit struct {
	ID           int64                 `json:"id"`
	AssignmentID *int64                `json:"assignment_id"`
	UserID       *int64                `json:"user_id"`
	Email        string                `json:"email"`
	EnrolledBy   *int64                `json:"enrolled_by"`
	Status       GroupEnrollmentStatus `json:"status"`
	ErrorMessage string                `json:"error_message"`
	Reason       string                `json:"reason"`
	Org          string                `json:"org"`
	Role         string                `json:"role"`
	Created      time.Time             `json:"created"`
	Modified     time.Time             `json:"modified"`
}

func (a *GroupCourseEnrollmentAudit) String() string {
	enrollee := a.Email
	if a.UserID != nil {
		enrollee = fmt.Sprint(*a.UserID)
	}
	return fmt.Sprintf("%s → %v (%s)", enrollee, derefID(a.AssignmentID), a.Status)
}

func derefID(id *int64) any {
	if id == nil {
		return "None"
	}
	return *id
}
