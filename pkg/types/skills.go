package types

import (
	"fmt"
	"time"
)

// Skill can be required or acquired by learning paths
type Skill struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

func (s *Skill) String() string {
	return s.DisplayName
}

// LearningPathSkill links a skill to a learning path at an optional level.
// A skill appears at most once per learning path for each kind.
type LearningPathSkill struct {
	ID             int64     `json:"id"`
	LearningPathID int64     `json:"learning_path_id"`
	SkillID        int64     `json:"skill_id"`
	Skill          *Skill    `json:"skill,omitempty"`
	Level          *int      `json:"level"`
	Created        time.Time `json:"created"`
	Modified       time.Time `json:"modified"`
}

func (s *LearningPathSkill) String() string {
	name := fmt.Sprint(s.SkillID)
	if s.Skill != nil {
		name = s.Skill.DisplayName
	}
	level := "None"
	if s.Level != nil {
		level = fmt.Sprint(*s.Level)
	}
	return fmt.Sprintf("%s: %s", name, level)
}

// RequiredSkill is a skill a learner needs before taking a learning path
type RequiredSkill struct {
	LearningPathSkill
}

// AcquiredSkill is a skill a learner gains by completing a learning path
type AcquiredSkill struct {
	LearningPathSkill
}

// SkillKind distinguishes required from acquired skills in storage and APIs
type SkillKind string

const (
	SkillRequired SkillKind = "required"
	SkillAcquired SkillKind = "acquired"
)

func (k SkillKind) Valid() bool {
	return k == SkillRequired || k == SkillAcquired
}
