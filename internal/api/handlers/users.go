package handlers

import (
	"net/http"
	"net/mail"

	"github.com/gin-gonic/gin"

	"github.com/learningpaths/learningpaths/internal/logger"
)

// Me returns the authenticated user
func (h *Handlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// ListUsers returns every user account
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.daemon.GetDB().ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// RegisterUser creates a user account and converts the pending enrollments
// of its email address
func (h *Handlers) RegisterUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		IsStaff  bool   `json:"is_staff"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
		return
	}

	user, converted, err := h.daemon.GetEnrollment().Register(c.Request.Context(), req.Username, req.Email, req.IsStaff)
	if err != nil {
		if user == nil {
			respondError(c, err)
			return
		}
		// The account exists; only the pending enrollment conversion failed
		logger.L().Error("[LearningPaths] Pending enrollment processing failed", "user", user.Username, "error", err)
	}
	c.JSON(http.StatusCreated, gin.H{
		"user":                  user,
		"enrollments_converted": converted,
	})
}

// IssueToken issues a bearer token for a user
func (h *Handlers) IssueToken(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.daemon.GetDB().GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := h.daemon.GetTokens().GenerateToken(user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "username": user.Username})
}
