package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/learningpaths/learningpaths/internal/groups"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

// ListGroups returns every group with its member count
func (h *Handlers) ListGroups(c *gin.Context) {
	list, err := h.daemon.GetGroups().Groups(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": list, "count": len(list)})
}

// CreateGroup adds a group
func (h *Handlers) CreateGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	g, err := h.daemon.GetGroups().CreateGroup(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

// DeleteGroup deletes a group, unenrolling its members from assigned courses
func (h *Handlers) DeleteGroup(c *gin.Context) {
	id, ok := idFromParam(c, "id")
	if !ok {
		return
	}
	if err := h.daemon.GetGroups().DeleteGroup(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "group deleted"})
}

// ListMembers returns the members of a group
func (h *Handlers) ListMembers(c *gin.Context) {
	id, ok := idFromParam(c, "id")
	if !ok {
		return
	}
	members, err := h.daemon.GetGroups().Members(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
}

type membersRequest struct {
	UserIDs []int64 `json:"user_ids" binding:"required"`
}

// AddMembers adds users to a group and enrolls them in its auto-enroll courses
func (h *Handlers) AddMembers(c *gin.Context) {
	id, ok := idFromParam(c, "id")
	if !ok {
		return
	}
	var req membersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.daemon.GetGroups().AddMembers(c.Request.Context(), id, req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RemoveMembers removes users from a group and unenrolls them from its courses
func (h *Handlers) RemoveMembers(c *gin.Context) {
	id, ok := idFromParam(c, "id")
	if !ok {
		return
	}
	var req membersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.daemon.GetGroups().RemoveMembers(c.Request.Context(), id, req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ----- Group course assignments -----

type assignmentRequest struct {
	GroupID        int64                `json:"group_id"`
	CourseKey      string               `json:"course_id"`
	EnrollmentMode types.EnrollmentMode `json:"enrollment_mode"`
	AutoEnroll     *bool                `json:"auto_enroll"`
	Reason         *string              `json:"reason"`
	IsActive       *bool                `json:"is_active"`
}

func (r *assignmentRequest) apply(a *types.GroupCourseAssignment) {
	if r.EnrollmentMode != "" {
		a.EnrollmentMode = r.EnrollmentMode
	}
	if r.AutoEnroll != nil {
		a.AutoEnroll = *r.AutoEnroll
	}
	if r.Reason != nil {
		a.Reason = *r.Reason
	}
	if r.IsActive != nil {
		a.IsActive = *r.IsActive
	}
}

// ListAssignments returns assignments, optionally filtered by group, course
// and active state
func (h *Handlers) ListAssignments(c *gin.Context) {
	var f storage.AssignmentFilter
	if v := c.Query("group_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group_id"})
			return
		}
		f.GroupID = id
	}
	if v := c.Query("course_id"); v != "" {
		course, err := types.ParseCourseKey(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		f.CourseKey = course
	}
	f.ActiveOnly = c.Query("is_active") == "true"

	list, err := h.daemon.GetGroups().Assignments(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": list, "count": len(list)})
}

// GetAssignment returns one assignment
func (h *Handlers) GetAssignment(c *gin.Context) {
	id, ok := idFromParam(c, "id")
	if !ok {
		return
	}
	a, err := h.daemon.GetGroups().Assignment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// CreateAssignment assigns a group to a course
func (h *Handlers) CreateAssignment(c *gin.Context) {
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	course, err := types.ParseCourseKey(req.CourseKey)
	if err != nil {
		badRequest(c, err)
		return
	}

	a := types.NewGroupCourseAssignment(req.GroupID, course)
	req.apply(a)
	if err := h.daemon.GetGroups().CreateAssignment(c.Request.Context(), currentUser(c), a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// UpdateAssignment changes an assignment's mode, flags or reason
func (h *Handlers) UpdateAssignment(c *gin.Context) {
	id, ok := idFromParam(c, "id")
	if !ok {
		return
	}
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	a, err := h.daemon.GetGroups().Assignment(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	req.apply(a)
	if err := h.daemon.GetGroups().UpdateAssignment(ctx, a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// DeleteAssignment deletes an assignment and unenrolls the group's members
func (h *Handlers) DeleteAssignment(c *gin.Context) {
	id, ok := idFromParam(c, "id")
	if !ok {
		return
	}
	if err := h.daemon.GetGroups().DeleteAssignment(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "assignment deleted"})
}

// ----- Group enrollments -----

// BulkEnrollGroups enrolls the members of groups into courses
func (h *Handlers) BulkEnrollGroups(c *gin.Context) {
	var req groups.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.daemon.GetGroups().BulkEnrollGroupToCourse(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SyncGroupEnrollments re-applies assignments to current group members
func (h *Handlers) SyncGroupEnrollments(c *gin.Context) {
	var req groups.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.daemon.GetGroups().SyncGroupEnrollments(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GroupAudits returns group enrollment audits
func (h *Handlers) GroupAudits(c *gin.Context) {
	var f storage.GroupAuditFilter
	if v := c.Query("assignment_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assignment_id"})
			return
		}
		f.AssignmentID = id
	}
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		f.UserID = id
	}
	f.Status = types.GroupEnrollmentStatus(c.Query("status"))

	audits, err := h.daemon.GetGroups().Audits(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits, "count": len(audits)})
}
