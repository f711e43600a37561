// Package models keeps the pre-split import path for the learning path models
// working. The models now live in feature files of pkg/types; everything in the
// public surface is re-exported here unchanged.
package models

import (
	"github.com/learningpaths/learningpaths/pkg/types"
)

// Learning paths
type LearningPath = types.LearningPath
type LearningPathManager = types.LearningPathManager
type LearningPathStep = types.LearningPathStep
type LearningPathGradingCriteria = types.LearningPathGradingCriteria

var LevelChoices = types.LevelChoices
var NewLearningPathManager = types.NewLearningPathManager

// Skills
type Skill = types.Skill
type LearningPathSkill = types.LearningPathSkill
type RequiredSkill = types.RequiredSkill
type AcquiredSkill = types.AcquiredSkill

// Enrollments
type LearningPathEnrollment = types.LearningPathEnrollment
type LearningPathEnrollmentAllowed = types.LearningPathEnrollmentAllowed
type LearningPathEnrollmentAudit = types.LearningPathEnrollmentAudit

// Groups
type GroupCourseAssignment = types.GroupCourseAssignment
type GroupCourseEnrollmentAudit = types.GroupCourseEnrollmentAudit
