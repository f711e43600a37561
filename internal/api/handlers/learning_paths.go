package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/progress"
	"github.com/learningpaths/learningpaths/pkg/types"
)

// learningPathRequest carries the editable fields of a learning path.
// Pointer fields left out of an update keep their current value.
type learningPathRequest struct {
	Key            string       `json:"key"`
	DisplayName    *string      `json:"display_name"`
	Subtitle       *string      `json:"subtitle"`
	Description    *string      `json:"description"`
	Image          *string      `json:"image"`
	Level          *types.Level `json:"level"`
	Duration       *string      `json:"duration"`
	TimeCommitment *string      `json:"time_commitment"`
	Sequential     *bool        `json:"sequential"`
	InviteOnly     *bool        `json:"invite_only"`
}

func (r *learningPathRequest) apply(lp *types.LearningPath) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&lp.DisplayName, r.DisplayName)
	set(&lp.Subtitle, r.Subtitle)
	set(&lp.Description, r.Description)
	set(&lp.Image, r.Image)
	set(&lp.Duration, r.Duration)
	set(&lp.TimeCommitment, r.TimeCommitment)
	if r.Level != nil {
		lp.Level = *r.Level
	}
	if r.Sequential != nil {
		lp.Sequential = *r.Sequential
	}
	if r.InviteOnly != nil {
		lp.InviteOnly = *r.InviteOnly
	}
}

// ListLearningPaths returns the learning paths visible to the current user
func (h *Handlers) ListLearningPaths(c *gin.Context) {
	paths, err := h.daemon.GetEnrollment().Manager().PathsVisibleToUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"learning_paths": paths,
		"count":          len(paths),
	})
}

// GetLearningPath returns one learning path with its steps and skills
func (h *Handlers) GetLearningPath(c *gin.Context) {
	key, err := types.ParseLearningPathKey(c.Param("key"))
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	vp, err := h.daemon.GetEnrollment().Manager().GetVisibleToUser(ctx, currentUser(c), key)
	if err != nil {
		respondError(c, err)
		return
	}

	db := h.daemon.GetDB()
	steps, err := db.ListSteps(ctx, vp.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	required, err := db.ListRequiredSkills(ctx, vp.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	acquired, err := db.ListAcquiredSkills(ctx, vp.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	criteria, err := db.GetGradingCriteria(ctx, vp.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"learning_path":    vp,
		"steps":            steps,
		"required_skills":  required,
		"acquired_skills":  acquired,
		"grading_criteria": criteria,
	})
}

// CreateLearningPath stores a new learning path with default grading criteria
func (h *Handlers) CreateLearningPath(c *gin.Context) {
	var req learningPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key, err := types.ParseLearningPathKey(req.Key)
	if err != nil {
		badRequest(c, err)
		return
	}

	lp := types.NewLearningPath(key, "")
	req.apply(lp)
	if err := h.daemon.GetDB().CreateLearningPath(c.Request.Context(), lp); err != nil {
		respondError(c, err)
		return
	}

	logger.L().Info("[LearningPaths] Created learning path", "key", lp.Key.String(), "by", currentUser(c).Username)
	c.JSON(http.StatusCreated, lp)
}

// UpdateLearningPath changes the editable fields of a learning path
func (h *Handlers) UpdateLearningPath(c *gin.Context) {
	lp, ok := h.pathFromParam(c)
	if !ok {
		return
	}
	var req learningPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Key != "" && req.Key != lp.Key.String() {
		badRequest(c, fmt.Errorf("the key of a learning path cannot change"))
		return
	}

	oldImage := lp.Image
	req.apply(lp)
	if err := h.daemon.GetDB().UpdateLearningPath(c.Request.Context(), lp); err != nil {
		respondError(c, err)
		return
	}
	if oldImage != lp.Image {
		if err := h.daemon.GetPaths().RemoveImage(oldImage); err != nil {
			logger.L().Warn("[LearningPaths] Could not remove replaced image", "image", oldImage, "error", err)
		}
	}
	c.JSON(http.StatusOK, lp)
}

// DeleteLearningPath removes a learning path and everything attached to it
func (h *Handlers) DeleteLearningPath(c *gin.Context) {
	lp, ok := h.pathFromParam(c)
	if !ok {
		return
	}
	if err := h.daemon.GetDB().DeleteLearningPath(c.Request.Context(), lp.ID); err != nil {
		respondError(c, err)
		return
	}
	if err := h.daemon.GetPaths().RemoveImage(lp.Image); err != nil {
		logger.L().Warn("[LearningPaths] Could not remove image", "image", lp.Image, "error", err)
	}

	logger.L().Info("[LearningPaths] Deleted learning path", "key", lp.Key.String(), "by", currentUser(c).Username)
	c.JSON(http.StatusOK, gin.H{"message": "learning path deleted", "key": lp.Key.String()})
}

// ImageUploadPath suggests the storage path for a new image of a learning path
func (h *Handlers) ImageUploadPath(c *gin.Context) {
	lp, ok := h.pathFromParam(c)
	if !ok {
		return
	}
	filename := c.Query("filename")
	if filename == "" {
		badRequest(c, fmt.Errorf("filename is required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_path": lp.ImageUploadPath(filename)})
}

type gradingCriteriaRequest struct {
	RequiredCompletion *float64 `json:"required_completion"`
	RequiredGrade      *float64 `json:"required_grade"`
}

// UpdateGradingCriteria changes the completion thresholds of a learning path
func (h *Handlers) UpdateGradingCriteria(c *gin.Context) {
	lp, ok := h.pathFromParam(c)
	if !ok {
		return
	}
	var req gradingCriteriaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	db := h.daemon.GetDB()
	gc, err := db.GetGradingCriteria(ctx, lp.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.RequiredCompletion != nil {
		gc.RequiredCompletion = *req.RequiredCompletion
	}
	if req.RequiredGrade != nil {
		gc.RequiredGrade = *req.RequiredGrade
	}
	if gc.RequiredCompletion < 0 || gc.RequiredCompletion > 1 || gc.RequiredGrade < 0 || gc.RequiredGrade > 1 {
		badRequest(c, fmt.Errorf("required completion and grade must be between 0 and 1"))
		return
	}
	if err := db.UpdateGradingCriteria(ctx, gc); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gc)
}

// ----- Programs -----

// ListPrograms returns the visible learning paths in their program form
func (h *Handlers) ListPrograms(c *gin.Context) {
	ctx := c.Request.Context()
	paths, err := h.daemon.GetEnrollment().Manager().PathsVisibleToUser(ctx, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}

	programs := make([]*progress.Program, 0, len(paths))
	for i := range paths {
		p, err := h.daemon.GetProgress().AsProgram(ctx, &paths[i].LearningPath)
		if err != nil {
			respondError(c, err)
			return
		}
		programs = append(programs, p)
	}
	c.JSON(http.StatusOK, gin.H{
		"programs": programs,
		"count":    len(programs),
	})
}

// GetProgram returns one learning path in its program form
func (h *Handlers) GetProgram(c *gin.Context) {
	lp, ok := h.visiblePathFromParam(c)
	if !ok {
		return
	}
	p, err := h.daemon.GetProgress().AsProgram(c.Request.Context(), lp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ----- Steps -----

type stepRequest struct {
	CourseKey string   `json:"course_key"`
	Order     *int     `json:"order"`
	Weight    *float64 `json:"weight"`
}

// ListSteps returns the steps of a visible learning path in order
func (h *Handlers) ListSteps(c *gin.Context) {
	lp, ok := h.visiblePathFromParam(c)
	if !ok {
		return
	}
	steps, err := h.daemon.GetDB().ListSteps(c.Request.Context(), lp.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps, "count": len(steps)})
}

// AddStep adds a course to a learning path
func (h *Handlers) AddStep(c *gin.Context) {
	lp, ok := h.pathFromParam(c)
	if !ok {
		return
	}
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	course, err := types.ParseCourseKey(req.CourseKey)
	if err != nil {
		badRequest(c, err)
		return
	}

	step := types.NewLearningPathStep(lp.ID, course)
	step.Order = req.Order
	if req.Weight != nil {
		step.Weight = *req.Weight
	}
	if err := h.daemon.GetDB().AddStep(c.Request.Context(), step); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

// stepFromParams loads the :step_id step and checks it belongs to the :key path
func (h *Handlers) stepFromParams(c *gin.Context) (*types.LearningPathStep, bool) {
	lp, ok := h.pathFromParam(c)
	if !ok {
		return nil, false
	}
	id, ok := idFromParam(c, "step_id")
	if !ok {
		return nil, false
	}
	step, err := h.daemon.GetDB().GetStep(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if step.LearningPathID != lp.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "step not found in this learning path"})
		return nil, false
	}
	return step, true
}

// UpdateStep changes the order or weight of a step
func (h *Handlers) UpdateStep(c *gin.Context) {
	step, ok := h.stepFromParams(c)
	if !ok {
		return
	}
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Order != nil {
		step.Order = req.Order
	}
	if req.Weight != nil {
		step.Weight = *req.Weight
	}
	if err := h.daemon.GetDB().UpdateStep(c.Request.Context(), step); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// DeleteStep removes a course from a learning path
func (h *Handlers) DeleteStep(c *gin.Context) {
	step, ok := h.stepFromParams(c)
	if !ok {
		return
	}
	if err := h.daemon.GetDB().DeleteStep(c.Request.Context(), step.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "step deleted"})
}

// ----- Skills -----

// ListSkills returns every skill
func (h *Handlers) ListSkills(c *gin.Context) {
	skills, err := h.daemon.GetDB().ListSkills(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skills": skills, "count": len(skills)})
}

// CreateSkill adds a skill
func (h *Handlers) CreateSkill(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	skill, err := h.daemon.GetDB().CreateSkill(c.Request.Context(), req.DisplayName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, skill)
}

// DeleteSkill removes a skill from every learning path and deletes it
func (h *Handlers) DeleteSkill(c *gin.Context) {
	id, ok := idFromParam(c, "id")
	if !ok {
		return
	}
	if err := h.daemon.GetDB().DeleteSkill(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "skill deleted"})
}

func skillKindFromParam(c *gin.Context) (types.SkillKind, bool) {
	kind := types.SkillKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("skill kind must be %q or %q", types.SkillRequired, types.SkillAcquired)})
		return "", false
	}
	return kind, true
}

// ListPathSkills returns the required or acquired skills of a learning path
func (h *Handlers) ListPathSkills(c *gin.Context) {
	kind, ok := skillKindFromParam(c)
	if !ok {
		return
	}
	lp, ok := h.visiblePathFromParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var skills any
	var count int
	var err error
	if kind == types.SkillRequired {
		var required []types.RequiredSkill
		required, err = h.daemon.GetDB().ListRequiredSkills(ctx, lp.ID)
		skills, count = required, len(required)
	} else {
		var acquired []types.AcquiredSkill
		acquired, err = h.daemon.GetDB().ListAcquiredSkills(ctx, lp.ID)
		skills, count = acquired, len(acquired)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skills": skills, "count": count})
}

// AddPathSkill links a skill to a learning path
func (h *Handlers) AddPathSkill(c *gin.Context) {
	kind, ok := skillKindFromParam(c)
	if !ok {
		return
	}
	lp, ok := h.pathFromParam(c)
	if !ok {
		return
	}
	var req struct {
		SkillID int64 `json:"skill_id" binding:"required"`
		Level   *int  `json:"level"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	skill, err := h.daemon.GetDB().GetSkill(ctx, req.SkillID)
	if err != nil {
		respondError(c, err)
		return
	}
	ps := &types.LearningPathSkill{LearningPathID: lp.ID, SkillID: skill.ID, Skill: skill, Level: req.Level}
	if err := h.daemon.GetDB().AddPathSkill(ctx, kind, ps); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ps)
}

// RemovePathSkill unlinks a skill from a learning path
func (h *Handlers) RemovePathSkill(c *gin.Context) {
	kind, ok := skillKindFromParam(c)
	if !ok {
		return
	}
	lp, ok := h.pathFromParam(c)
	if !ok {
		return
	}
	skillID, ok := idFromParam(c, "skill_id")
	if !ok {
		return
	}
	if err := h.daemon.GetDB().RemovePathSkill(c.Request.Context(), kind, lp.ID, skillID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "skill removed"})
}
