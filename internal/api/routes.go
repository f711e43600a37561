package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learningpaths/learningpaths/internal/api/handlers"
	"github.com/learningpaths/learningpaths/internal/daemon"
)

func SetupRoutes(d *daemon.Daemon) *gin.Engine {
	router := gin.New()

	// Add middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	if rl := d.GetConfig().RateLimit; rl.Enabled {
		router.Use(rateLimitMiddleware(rl.RequestsPerSecond, rl.Burst))
	}

	h := handlers.NewHandlers(d)
	authed := h.RequireAuth()
	staff := h.RequireStaff()

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Health and status endpoints
		v1.GET("/health", h.Health)
		v1.GET("/status", h.Status)
		v1.GET("/surface", h.Surface)

		api := v1.Group("", authed)

		api.GET("/users/me", h.Me)
		api.GET("/users", staff, h.ListUsers)
		api.POST("/users", staff, h.RegisterUser)
		api.POST("/tokens", staff, h.IssueToken)

		paths := api.Group("/learning-paths")
		{
			paths.GET("", h.ListLearningPaths)
			paths.POST("", staff, h.CreateLearningPath)
			paths.GET("/:key", h.GetLearningPath)
			paths.PATCH("/:key", staff, h.UpdateLearningPath)
			paths.DELETE("/:key", staff, h.DeleteLearningPath)
			paths.PATCH("/:key/grading-criteria", staff, h.UpdateGradingCriteria)
			paths.GET("/:key/image-path", staff, h.ImageUploadPath)

			paths.GET("/:key/steps", h.ListSteps)
			paths.POST("/:key/steps", staff, h.AddStep)
			paths.PATCH("/:key/steps/:step_id", staff, h.UpdateStep)
			paths.DELETE("/:key/steps/:step_id", staff, h.DeleteStep)

			paths.GET("/:key/skills/:kind", h.ListPathSkills)
			paths.POST("/:key/skills/:kind", staff, h.AddPathSkill)
			paths.DELETE("/:key/skills/:kind/:skill_id", staff, h.RemovePathSkill)

			paths.GET("/:key/enrollments", h.ListPathEnrollments)
			paths.POST("/:key/enrollments", h.EnrollInPath)
			paths.DELETE("/:key/enrollments", h.UnenrollFromPath)
			paths.GET("/:key/enrollments/audits", staff, h.EnrollmentAudits)
			paths.GET("/:key/enrollments/pending", staff, h.PendingEnrollments)
			paths.POST("/:key/courses/:course_key/enroll", h.EnrollInCourse)

			paths.GET("/:key/progress", h.Progress)
			paths.GET("/:key/grade", h.Grade)
			paths.GET("/:key/certificate", h.Certificate)
		}

		api.GET("/programs", h.ListPrograms)
		api.GET("/programs/:key", h.GetProgram)

		skills := api.Group("/skills")
		{
			skills.GET("", h.ListSkills)
			skills.POST("", staff, h.CreateSkill)
			skills.DELETE("/:id", staff, h.DeleteSkill)
		}

		enrollments := api.Group("/enrollments")
		{
			enrollments.GET("", h.ListEnrollments)
			enrollments.POST("/bulk", staff, h.BulkEnroll)
			enrollments.DELETE("/bulk", staff, h.BulkUnenroll)
		}

		groups := api.Group("/groups", staff)
		{
			groups.GET("", h.ListGroups)
			groups.POST("", h.CreateGroup)
			groups.DELETE("/:id", h.DeleteGroup)
			groups.GET("/:id/members", h.ListMembers)
			groups.POST("/:id/members", h.AddMembers)
			groups.DELETE("/:id/members", h.RemoveMembers)
		}

		assignments := api.Group("/group-course-assignments", staff)
		{
			assignments.GET("", h.ListAssignments)
			assignments.POST("", h.CreateAssignment)
			assignments.GET("/:id", h.GetAssignment)
			assignments.PATCH("/:id", h.UpdateAssignment)
			assignments.DELETE("/:id", h.DeleteAssignment)
		}

		groupEnrollments := api.Group("/group-enrollments", staff)
		{
			groupEnrollments.POST("/bulk", h.BulkEnrollGroups)
			groupEnrollments.POST("/sync", h.SyncGroupEnrollments)
			groupEnrollments.GET("/audits", h.GroupAudits)
		}

		courses := api.Group("/courses/:course_key")
		{
			courses.POST("/grades", staff, h.RecordGrade)
			courses.POST("/completion", staff, h.RecordCompletion)
			courses.GET("/dates", h.CourseDates)
			courses.PUT("/dates", staff, h.SetCourseDates)
			courses.GET("/prerequisites", h.ListPrerequisites)
			courses.POST("/prerequisites", staff, h.AddPrerequisite)
			courses.POST("/milestone", h.CheckMilestone)
		}

		api.GET("/milestones/jobs", staff, h.ListMilestoneJobs)

		// Admin endpoints
		admin := api.Group("/admin", staff)
		{
			admin.POST("/shutdown", h.Shutdown)
		}
	}

	// Catch-all for undefined routes
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "endpoint not found",
			"path":  c.Request.URL.Path,
		})
	})

	return router
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "http://localhost:*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
