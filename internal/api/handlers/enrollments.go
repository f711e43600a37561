package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learningpaths/learningpaths/internal/enrollment"
	"github.com/learningpaths/learningpaths/pkg/types"
)

func keyFromParam(c *gin.Context) (types.LearningPathKey, bool) {
	key, err := types.ParseLearningPathKey(c.Param("key"))
	if err != nil {
		badRequest(c, err)
		return types.LearningPathKey{}, false
	}
	return key, true
}

// ListPathEnrollments returns the active enrollments of a learning path
func (h *Handlers) ListPathEnrollments(c *gin.Context) {
	key, ok := keyFromParam(c)
	if !ok {
		return
	}
	details, err := h.daemon.GetEnrollment().ListForPath(c.Request.Context(), currentUser(c), key, c.Query("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": details, "count": len(details)})
}

type enrollRequest struct {
	Username string `json:"username"`
}

// bindOptionalJSON binds a request body that may be empty. A body that is
// present but malformed is answered with 400.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.Body == nil {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return false
	}
	return true
}

// EnrollInPath enrolls the current user, or the named user for staff
func (h *Handlers) EnrollInPath(c *gin.Context) {
	key, ok := keyFromParam(c)
	if !ok {
		return
	}
	var req enrollRequest
	// An empty body enrolls the caller
	if !bindOptionalJSON(c, &req) {
		return
	}

	e, created, err := h.daemon.GetEnrollment().Enroll(c.Request.Context(), currentUser(c), key, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, e)
}

// UnenrollFromPath deactivates an enrollment
func (h *Handlers) UnenrollFromPath(c *gin.Context) {
	key, ok := keyFromParam(c)
	if !ok {
		return
	}
	username := c.Query("username")
	if username == "" {
		var req enrollRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		username = req.Username
	}

	e, err := h.daemon.GetEnrollment().Unenroll(c.Request.Context(), currentUser(c), key, username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ListEnrollments returns enrollments across all learning paths
func (h *Handlers) ListEnrollments(c *gin.Context) {
	details, err := h.daemon.GetEnrollment().List(c.Request.Context(), currentUser(c), c.Query("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": details, "count": len(details)})
}

// EnrollmentAudits returns the audit trail of one user's enrollment
func (h *Handlers) EnrollmentAudits(c *gin.Context) {
	key, ok := keyFromParam(c)
	if !ok {
		return
	}
	username := c.Query("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	audits, err := h.daemon.GetEnrollment().Audits(c.Request.Context(), key, username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits, "count": len(audits)})
}

// PendingEnrollments lists the emails allowed to enroll once they register
func (h *Handlers) PendingEnrollments(c *gin.Context) {
	key, ok := keyFromParam(c)
	if !ok {
		return
	}
	pending, err := h.daemon.GetEnrollment().Pending(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending, "count": len(pending)})
}

// BulkEnroll enrolls emails and groups in learning paths
func (h *Handlers) BulkEnroll(c *gin.Context) {
	var req enrollment.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.daemon.GetEnrollment().BulkEnroll(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BulkUnenroll unenrolls emails and groups from learning paths
func (h *Handlers) BulkUnenroll(c *gin.Context) {
	var req enrollment.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.daemon.GetEnrollment().BulkUnenroll(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// EnrollInCourse enrolls the current learner in a course of a learning path
func (h *Handlers) EnrollInCourse(c *gin.Context) {
	key, ok := keyFromParam(c)
	if !ok {
		return
	}
	course, ok := courseFromParam(c, "course_key")
	if !ok {
		return
	}

	created, err := h.daemon.GetEnrollment().EnrollInCourse(c.Request.Context(), currentUser(c), key, course)
	if err != nil {
		respondError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"message": "already enrolled in course", "course_key": course.String()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "enrolled in course", "course_key": course.String()})
}
