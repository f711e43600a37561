package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learningpaths/learningpaths/pkg/types"
)

// Progress returns the completion of a user in a learning path
func (h *Handlers) Progress(c *gin.Context) {
	user, ok := h.targetUser(c)
	if !ok {
		return
	}
	lp, ok := h.visiblePathFromParam(c)
	if !ok {
		return
	}
	result, err := h.daemon.GetProgress().Progress(c.Request.Context(), user, lp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Grade returns the weighted grade of a user in a learning path
func (h *Handlers) Grade(c *gin.Context) {
	user, ok := h.targetUser(c)
	if !ok {
		return
	}
	lp, ok := h.visiblePathFromParam(c)
	if !ok {
		return
	}
	result, err := h.daemon.GetProgress().Grade(c.Request.Context(), user, lp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Certificate returns whether a user is eligible for the learning path certificate
func (h *Handlers) Certificate(c *gin.Context) {
	user, ok := h.targetUser(c)
	if !ok {
		return
	}
	lp, ok := h.visiblePathFromParam(c)
	if !ok {
		return
	}
	status, err := h.daemon.GetProgress().CertificateStatus(c.Request.Context(), user, lp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ----- Course records -----

type courseRecordRequest struct {
	Username string `json:"username" binding:"required"`
}

func (h *Handlers) recordUser(c *gin.Context, username string) (*types.User, bool) {
	user, err := h.daemon.GetDB().GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return user, true
}

// RecordGrade stores a learner's grade in a course
func (h *Handlers) RecordGrade(c *gin.Context) {
	course, ok := courseFromParam(c, "course_key")
	if !ok {
		return
	}
	var req struct {
		courseRecordRequest
		Percent float64 `json:"percent"`
		Passed  bool    `json:"passed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Percent < 0 || req.Percent > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "percent must be between 0 and 1"})
		return
	}
	user, ok := h.recordUser(c, req.Username)
	if !ok {
		return
	}

	g := &types.CourseGrade{UserID: user.ID, CourseKey: course, Percent: req.Percent, Passed: req.Passed}
	if err := h.daemon.GetCourses().RecordGrade(c.Request.Context(), g); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// RecordCompletion stores a learner's unit completion in a course and
// schedules a milestone check
func (h *Handlers) RecordCompletion(c *gin.Context) {
	course, ok := courseFromParam(c, "course_key")
	if !ok {
		return
	}
	var req struct {
		courseRecordRequest
		Complete   int `json:"complete_count"`
		Incomplete int `json:"incomplete_count"`
		Locked     int `json:"locked_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, ok := h.recordUser(c, req.Username)
	if !ok {
		return
	}

	rec := &types.CourseCompletion{
		UserID: user.ID, CourseKey: course,
		Complete: req.Complete, Incomplete: req.Incomplete, Locked: req.Locked,
	}
	if err := h.daemon.GetCourses().RecordCompletion(c.Request.Context(), rec); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completion": rec, "ratio": rec.Ratio()})
}

// SetCourseDates stores the schedule of a course run
func (h *Handlers) SetCourseDates(c *gin.Context) {
	course, ok := courseFromParam(c, "course_key")
	if !ok {
		return
	}
	var req struct {
		Start *time.Time `json:"start"`
		End   *time.Time `json:"end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.daemon.GetCourses().SetCourseDates(c.Request.Context(), course, req.Start, req.End); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.CourseRun{CourseKey: course, Start: req.Start, End: req.End})
}

// CourseDates returns the schedule of a course run
func (h *Handlers) CourseDates(c *gin.Context) {
	course, ok := courseFromParam(c, "course_key")
	if !ok {
		return
	}
	start, end, err := h.daemon.GetCourses().CourseDates(c.Request.Context(), course)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.CourseRun{CourseKey: course, Start: start, End: end})
}

// ----- Prerequisites and milestones -----

// AddPrerequisite declares that a course requires another course
func (h *Handlers) AddPrerequisite(c *gin.Context) {
	course, ok := courseFromParam(c, "course_key")
	if !ok {
		return
	}
	var req struct {
		RequiredCourse string `json:"required_course" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	required, err := types.ParseCourseKey(req.RequiredCourse)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.daemon.GetCourses().AddPrerequisite(c.Request.Context(), course, required); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, types.CoursePrerequisite{CourseKey: course, RequiredCourse: required})
}

// ListPrerequisites returns the prerequisites of a course and whether the
// user fulfilled them
func (h *Handlers) ListPrerequisites(c *gin.Context) {
	course, ok := courseFromParam(c, "course_key")
	if !ok {
		return
	}
	user, ok := h.targetUser(c)
	if !ok {
		return
	}
	prereqs, err := h.daemon.GetCourses().Prerequisites(c.Request.Context(), user.ID, course)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prerequisites": prereqs, "count": len(prereqs)})
}

// CheckMilestone runs a milestone check for a user right away
func (h *Handlers) CheckMilestone(c *gin.Context) {
	course, ok := courseFromParam(c, "course_key")
	if !ok {
		return
	}
	user, ok := h.targetUser(c)
	if !ok {
		return
	}
	result, err := h.daemon.GetCourses().CheckAndFulfillMilestone(c.Request.Context(), user.ID, course)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListMilestoneJobs returns the milestone jobs known to the daemon
func (h *Handlers) ListMilestoneJobs(c *gin.Context) {
	jobs := h.daemon.GetMilestones().Jobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":    jobs,
		"count":   len(jobs),
		"pending": h.daemon.GetMilestones().PendingCount(),
	})
}
