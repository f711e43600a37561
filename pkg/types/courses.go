package types

import "time"

// CourseEnrollment is a user's enrollment in a single course run
type CourseEnrollment struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	CourseKey CourseKey      `json:"course_key"`
	Mode      EnrollmentMode `json:"mode"`
	IsActive  bool           `json:"is_active"`
	Created   time.Time      `json:"created"`
	Modified  time.Time      `json:"modified"`
}

// CourseRun holds the schedule of a course
type CourseRun struct {
	CourseKey CourseKey  `json:"course_key"`
	Start     *time.Time `json:"start"`
	End       *time.Time `json:"end"`
}

// CourseGrade is a user's grade in a course
type CourseGrade struct {
	UserID    int64     `json:"user_id"`
	CourseKey CourseKey `json:"course_key"`
	Percent   float64   `json:"percent"` // 0..1
	Passed    bool      `json:"passed"`
	Modified  time.Time `json:"modified"`
}

// CourseCompletion summarises a user's unit completion in a course
type CourseCompletion struct {
	UserID     int64     `json:"user_id"`
	CourseKey  CourseKey `json:"course_key"`
	Complete   int       `json:"complete_count"`
	Incomplete int       `json:"incomplete_count"`
	Locked     int       `json:"locked_count"`
	Modified   time.Time `json:"modified"`
}

// Ratio returns the completed share of units, 0 when there are none
func (c *CourseCompletion) Ratio() float64 {
	if c == nil {
		return 0
	}
	total := c.Complete + c.Incomplete + c.Locked
	if total <= 0 {
		return 0
	}
	return float64(c.Complete) / float64(total)
}

// CourseMilestone marks a prerequisite course as fulfilled for a user
type CourseMilestone struct {
	UserID      int64     `json:"user_id"`
	CourseKey   CourseKey `json:"course_key"`
	FulfilledAt time.Time `json:"fulfilled_at"`
}

// CoursePrerequisite declares that a course requires another course first
type CoursePrerequisite struct {
	CourseKey      CourseKey `json:"course_key"`
	RequiredCourse CourseKey `json:"required_course"`
	Fulfilled      bool      `json:"fulfilled,omitempty"`
}
