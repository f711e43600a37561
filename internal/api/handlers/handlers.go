package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learningpaths/learningpaths/internal/auth"
	"github.com/learningpaths/learningpaths/internal/daemon"
	"github.com/learningpaths/learningpaths/internal/enrollment"
	"github.com/learningpaths/learningpaths/internal/groups"
	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/models"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

const userKey = "user"

type Handlers struct {
	daemon *daemon.Daemon
}

func NewHandlers(d *daemon.Daemon) *Handlers {
	return &Handlers{
		daemon: d,
	}
}

// Health endpoint for health checks
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Status returns daemon status information
func (h *Handlers) Status(c *gin.Context) {
	status := h.daemon.GetStatus()
	c.JSON(http.StatusOK, status)
}

// Surface returns the compatibility model surface grouped by domain area
func (h *Handlers) Surface(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"groups":  models.Groups(),
		"exports": models.Surface(),
		"names":   models.Names(),
	})
}

// Shutdown gracefully shuts down the daemon
func (h *Handlers) Shutdown(c *gin.Context) {
	// The owner of the daemon finishes the shutdown once Done is closed
	go func() {
		time.Sleep(100 * time.Millisecond)
		h.daemon.Stop()
	}()

	c.JSON(http.StatusOK, gin.H{
		"message": "daemon shutting down",
	})
}

// RequireAuth resolves the bearer token to a user
func (h *Handlers) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication credentials were not provided"})
			return
		}

		claims, err := h.daemon.GetTokens().ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		user, err := h.daemon.GetDB().GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// RequireStaff rejects non-staff users. It runs after RequireAuth.
func (h *Handlers) RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentUser(c).Staff() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff access required"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *types.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*types.User)
	return user
}

// respondError maps service errors to HTTP status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidKey),
		errors.Is(err, types.ErrEmptyLearningPathKey),
		errors.Is(err, types.ErrEmptyCourseKey),
		errors.Is(err, types.ErrInvalidLevel),
		errors.Is(err, types.ErrInvalidWeight),
		errors.Is(err, groups.ErrInvalidRequest),
		errors.Is(err, enrollment.ErrCourseNotInPath):
		status = http.StatusBadRequest
	case errors.Is(err, enrollment.ErrPermissionDenied),
		errors.Is(err, enrollment.ErrPrerequisitesNotMet):
		status = http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, types.ErrLearningPathNotFound),
		errors.Is(err, enrollment.ErrUserNotFound),
		errors.Is(err, enrollment.ErrNotEnrolled),
		errors.Is(err, groups.ErrGroupNotFound),
		errors.Is(err, groups.ErrAssignmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, enrollment.ErrEnrollmentExists),
		errors.Is(err, groups.ErrAssignmentExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logger.L().Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// pathFromParam loads the learning path named by the :key parameter
func (h *Handlers) pathFromParam(c *gin.Context) (*types.LearningPath, bool) {
	key, err := types.ParseLearningPathKey(c.Param("key"))
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	lp, err := h.daemon.GetDB().GetLearningPathByKey(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return lp, true
}

// visiblePathFromParam loads the :key learning path if the current user may see it
func (h *Handlers) visiblePathFromParam(c *gin.Context) (*types.LearningPath, bool) {
	key, err := types.ParseLearningPathKey(c.Param("key"))
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	vp, err := h.daemon.GetEnrollment().Manager().GetVisibleToUser(c.Request.Context(), currentUser(c), key)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return &vp.LearningPath, true
}

func courseFromParam(c *gin.Context, name string) (types.CourseKey, bool) {
	course, err := types.ParseCourseKey(c.Param(name))
	if err != nil {
		badRequest(c, err)
		return types.CourseKey{}, false
	}
	return course, true
}

func idFromParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// targetUser returns the user named by the username query parameter. Only
// staff may look at other users.
func (h *Handlers) targetUser(c *gin.Context) (*types.User, bool) {
	actor := currentUser(c)
	username := c.Query("username")
	if username == "" || username == actor.Username {
		return actor, true
	}
	if !actor.Staff() {
		respondError(c, enrollment.ErrPermissionDenied)
		return nil, false
	}
	user, err := h.daemon.GetDB().GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return user, true
}
