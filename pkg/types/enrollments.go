package types

import (
	"fmt"
	"time"
)

// LearningPathEnrollment is a user enrolled in a learning path.
// There is at most one enrollment per user and learning path.
type LearningPathEnrollment struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	LearningPathID int64     `json:"learning_path_id"`
	IsActive       bool      `json:"is_active"`
	Created        time.Time `json:"created"`
	Modified       time.Time `json:"modified"`
}

func (e *LearningPathEnrollment) String() string {
	return fmt.Sprintf("%d: %d", e.UserID, e.LearningPathID)
}

// LearningPathEnrollmentAllowed lets an email address be enrolled before an
// account exists for it. The email is retained so future learners can enroll.
type LearningPathEnrollmentAllowed struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	LearningPathID int64     `json:"learning_path_id"`
	UserID         *int64    `json:"user_id"`
	IsActive       bool      `json:"is_active"`
	Created        time.Time `json:"created"`
	Modified       time.Time `json:"modified"`
}

func (a *LearningPathEnrollmentAllowed) String() string {
	return fmt.Sprintf("LearningPathEnrollmentAllowed for %s in %d", a.Email, a.LearningPathID)
}

// StateTransition names an enrollment state change. The values match the
// course enrollment audit strings used by the LMS.
type StateTransition string

const (
	UnenrolledToAllowedToEnroll StateTransition = "from unenrolled to allowed to enroll"
	AllowedToEnrollToEnrolled   StateTransition = "from allowed to enroll to enrolled"
	EnrolledToEnrolled          StateTransition = "from enrolled to enrolled"
	EnrolledToUnenrolled        StateTransition = "from enrolled to unenrolled"
	UnenrolledToEnrolled        StateTransition = "from unenrolled to enrolled"
	AllowedToEnrollToUnenrolled StateTransition = "from allowed to enroll to unenrolled"
	UnenrolledToUnenrolled      StateTransition = "from unenrolled to unenrolled"
	DefaultTransitionState      StateTransition = "N/A"
)

// TransitionStates lists every valid transition
var TransitionStates = []StateTransition{
	UnenrolledToAllowedToEnroll,
	AllowedToEnrollToEnrolled,
	EnrolledToEnrolled,
	EnrolledToUnenrolled,
	UnenrolledToEnrolled,
	AllowedToEnrollToUnenrolled,
	UnenrolledToUnenrolled,
	DefaultTransitionState,
}

func (s StateTransition) Valid() bool {
	for _, t := range TransitionStates {
		if t == s {
			return true
		}
	}
	return false
}

// TransitionFor derives the transition of an enrollment save from its
// previous and current active flags
func TransitionFor(created, wasActive, isActive bool) StateTransition {
	switch {
	case created:
		return UnenrolledToEnrolled
	case isActive && !wasActive:
		return UnenrolledToEnrolled
	case !isActive && wasActive:
		return EnrolledToUnenrolled
	case isActive && wasActive:
		return EnrolledToEnrolled
	default:
		return UnenrolledToUnenrolled
	}
}

// LearningPathEnrollmentAudit records a change to an enrollment or an allowed enrollment
type LearningPathEnrollmentAudit struct {
	ID                  int64           `json:"id"`
	EnrolledBy          *int64          `json:"enrolled_by"`
	EnrollmentID        *int64          `json:"enrollment_id"`
	EnrollmentAllowedID *int64          `json:"enrollment_allowed_id"`
	StateTransition     StateTransition `json:"state_transition"`
	Reason              string          `json:"reason"`
	Org                 string          `json:"org"`
	Role                string          `json:"role"`
	Created             time.Time       `json:"created"`
	Modified            time.Time       `json:"modified"`
}

func (a *LearningPathEnrollmentAudit) String() string {
	switch {
	case a.EnrollmentID != nil:
		return fmt.Sprintf("%s for enrollment %d", a.StateTransition, *a.EnrollmentID)
	case a.EnrollmentAllowedID != nil:
		return fmt.Sprintf("%s for allowed enrollment %d", a.StateTransition, *a.EnrollmentAllowedID)
	default:
		return fmt.Sprintf("%s for unknown in unknown", a.StateTransition)
	}
}

// AuditData is the metadata attached to an enrollment change
type AuditData struct {
	EnrolledBy      *int64
	StateTransition StateTransition
	Reason          string
	Org             string
	Role            string
}

// InheritFrom fills empty reason, org and role from a previous audit
func (d *AuditData) InheritFrom(prev *LearningPathEnrollmentAudit) {
	if prev == nil {
		return
	}
	if d.Reason == "" {
		d.Reason = prev.Reason
	}
	if d.Org == "" {
		d.Org = prev.Org
	}
	if d.Role == "" {
		d.Role = prev.Role
	}
}
