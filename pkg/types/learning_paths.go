package types

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Level is the difficulty level of a learning path
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// LevelChoice pairs a stored level value with its display label
type LevelChoice struct {
	Value Level  `json:"value"`
	Label string `json:"label"`
}

// LevelChoices lists the selectable levels in display order
var LevelChoices = []LevelChoice{
	{Value: LevelBeginner, Label: "Beginner"},
	{Value: LevelIntermediate, Label: "Intermediate"},
	{Value: LevelAdvanced, Label: "Advanced"},
}

// Valid reports whether l is empty or one of LevelChoices
func (l Level) Valid() bool {
	if l == "" {
		return true
	}
	for _, c := range LevelChoices {
		if c.Value == l {
			return true
		}
	}
	return false
}

const (
	DefaultStepWeight         = 1.0
	DefaultRequiredCompletion = 0.80
	DefaultRequiredGrade      = 0.75

	imageUploadDir = "learning_paths/images"
)

var (
	ErrEmptyLearningPathKey = errors.New("learning path key cannot be empty")
	ErrEmptyCourseKey       = errors.New("course key cannot be empty")
	ErrInvalidLevel         = errors.New("invalid level")
	ErrInvalidWeight        = errors.New("weight must be between 0 and 1")
	ErrLearningPathNotFound = errors.New("learning path not found")
)

// LearningPath is a sequence of courses
type LearningPath struct {
	ID             int64           `json:"id"`
	Key            LearningPathKey `json:"key"`
	UUID           uuid.UUID       `json:"uuid"`
	DisplayName    string          `json:"display_name"`
	Subtitle       string          `json:"subtitle"`
	Description    string          `json:"description"`
	Image          string          `json:"image,omitempty"`
	Level          Level           `json:"level"`
	Duration       string          `json:"duration"`        // e.g. "10 Weeks"
	TimeCommitment string          `json:"time_commitment"` // e.g. "4-6 hours/week"
	Sequential     bool            `json:"sequential"`
	InviteOnly     bool            `json:"invite_only"`
	Created        time.Time       `json:"created"`
	Modified       time.Time       `json:"modified"`
}

// NewLearningPath returns a learning path with the model defaults applied.
// New paths are invite-only until explicitly made public.
func NewLearningPath(key LearningPathKey, displayName string) *LearningPath {
	return &LearningPath{
		Key:         key,
		UUID:        uuid.New(),
		DisplayName: displayName,
		InviteOnly:  true,
	}
}

func (lp *LearningPath) String() string {
	return lp.Key.String()
}

// Validate checks the fields that must hold before a learning path is saved
func (lp *LearningPath) Validate() error {
	if lp.Key.IsZero() {
		return ErrEmptyLearningPathKey
	}
	if !lp.Level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, lp.Level)
	}
	return nil
}

// ImageUploadPath returns the storage path for an uploaded image.
// The random suffix forces cache invalidation when the image changes.
func (lp *LearningPath) ImageUploadPath(filename string) string {
	ext := path.Ext(filename)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s/%s_%s%s", imageUploadDir, slug.Make(lp.Key.String()), suffix, ext)
}

// LearningPathStep is a course at an optional ordinal position in a learning path
type LearningPathStep struct {
	ID             int64     `json:"id"`
	LearningPathID int64     `json:"learning_path_id"`
	CourseKey      CourseKey `json:"course_key"`
	Order          *int      `json:"order"`
	Weight         float64   `json:"weight"` // share of the aggregate grade, 0..1
	Created        time.Time `json:"created"`
	Modified       time.Time `json:"modified"`
}

// NewLearningPathStep returns a step with the default weight
func NewLearningPathStep(learningPathID int64, courseKey CourseKey) *LearningPathStep {
	return &LearningPathStep{
		LearningPathID: learningPathID,
		CourseKey:      courseKey,
		Weight:         DefaultStepWeight,
	}
}

func (s *LearningPathStep) String() string {
	order := "None"
	if s.Order != nil {
		order = fmt.Sprint(*s.Order)
	}
	return fmt.Sprintf("%s: %s", order, s.CourseKey)
}

func (s *LearningPathStep) Validate() error {
	if s.CourseKey.IsZero() {
		return ErrEmptyCourseKey
	}
	if s.Weight < 0 || s.Weight > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidWeight, s.Weight)
	}
	return nil
}

// SortSteps orders steps by their position; unordered steps go last
func SortSteps(steps []LearningPathStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i].Order, steps[j].Order
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

// LearningPathGradingCriteria holds the thresholds for completing a learning path
type LearningPathGradingCriteria struct {
	ID                 int64   `json:"id"`
	LearningPathID     int64   `json:"learning_path_id"`
	RequiredCompletion float64 `json:"required_completion"`
	RequiredGrade      float64 `json:"required_grade"`
}

// DefaultGradingCriteria returns the criteria created alongside a new learning path
func DefaultGradingCriteria(learningPathID int64) *LearningPathGradingCriteria {
	return &LearningPathGradingCriteria{
		LearningPathID:     learningPathID,
		RequiredCompletion: DefaultRequiredCompletion,
		RequiredGrade:      DefaultRequiredGrade,
	}
}

// CalculateGrade returns the weighted mean of the course grades across steps.
// Courses without a grade count as zero.
func (gc *LearningPathGradingCriteria) CalculateGrade(steps []LearningPathStep, grades map[CourseKey]float64) float64 {
	var totalWeight, weightedSum float64
	for _, step := range steps {
		weightedSum += grades[step.CourseKey] * step.Weight
		totalWeight += step.Weight
	}
	if totalWeight <= 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// PathSource is the data a LearningPathManager needs to answer visibility queries
type PathSource interface {
	ListLearningPaths(ctx context.Context) ([]LearningPath, error)
	// ActiveEnrollmentDates maps learning path IDs to the creation time of the
	// user's active enrollment in that path.
	ActiveEnrollmentDates(ctx context.Context, userID int64) (map[int64]time.Time, error)
}

// VisibleLearningPath is a learning path annotated with the viewer's enrollment date
type VisibleLearningPath struct {
	LearningPath
	EnrollmentDate *time.Time `json:"enrollment_date"`
}

// LearningPathManager applies the visibility rules for learning paths
type LearningPathManager struct {
	source PathSource
}

func NewLearningPathManager(source PathSource) *LearningPathManager {
	return &LearningPathManager{source: source}
}

// PathsVisibleToUser returns the learning paths the user may see.
//
// Staff see every path. Everyone else sees public paths and the invite-only
// paths they are actively enrolled in. Paths are ordered by enrollment date,
// most recent first, with non-enrolled paths last.
func (m *LearningPathManager) PathsVisibleToUser(ctx context.Context, user *User) ([]VisibleLearningPath, error) {
	paths, err := m.source.ListLearningPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list learning paths: %w", err)
	}

	dates := map[int64]time.Time{}
	if user != nil && user.ID != 0 {
		dates, err = m.source.ActiveEnrollmentDates(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load enrollments: %w", err)
		}
	}

	visible := make([]VisibleLearningPath, 0, len(paths))
	for _, lp := range paths {
		vp := VisibleLearningPath{LearningPath: lp}
		if d, ok := dates[lp.ID]; ok {
			vp.EnrollmentDate = &d
		}
		if user.Staff() || !lp.InviteOnly || vp.EnrollmentDate != nil {
			visible = append(visible, vp)
		}
	}

	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i].EnrollmentDate, visible[j].EnrollmentDate
		switch {
		case a != nil && b != nil:
			if !a.Equal(*b) {
				return a.After(*b)
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return visible[i].Key.String() < visible[j].Key.String()
	})

	return visible, nil
}

// GetVisibleToUser returns a single learning path if the user may see it
func (m *LearningPathManager) GetVisibleToUser(ctx context.Context, user *User, key LearningPathKey) (*VisibleLearningPath, error) {
	paths, err := m.PathsVisibleToUser(ctx, user)
	if err != nil {
		return nil, err
	}
	for i := range paths {
		if paths[i].Key == key {
			return &paths[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLearningPathNotFound, key)
}
