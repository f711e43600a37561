// Package progress computes learner progress, grades and certificate
// eligibility in a learning path, and the program view used by catalog
// discovery.
package progress

import (
	"context"
	"errors"
	"strings"

	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

// Certificate eligibility outcomes
const (
	ReasonEligible               = "eligible"
	ReasonInsufficientCompletion = "insufficient_completion"
	ReasonInsufficientGrade      = "insufficient_grade"
	ReasonNoGradingCriteria      = "no_grading_criteria"
	ReasonCredentialsDisabled    = "credentials_disabled"
)

const (
	programStatus = "active"
	bannerSize    = "w1440h480"
)

// Store is the learning path data progress is computed from
type Store interface {
	ListSteps(ctx context.Context, learningPathID int64) ([]types.LearningPathStep, error)
	GetGradingCriteria(ctx context.Context, learningPathID int64) (*types.LearningPathGradingCriteria, error)
}

// CourseRecords reads learner records from the course backend
type CourseRecords interface {
	Completion(ctx context.Context, userID int64, course types.CourseKey) (float64, error)
	Grade(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseGrade, error)
}

type Options struct {
	// CertificatesEnabled turns on certificate eligibility checks
	CertificatesEnabled bool
	// MediaURL prefixes image paths in the program view
	MediaURL string
}

type Service struct {
	store   Store
	records CourseRecords
	opts    Options
}

func NewService(store Store, records CourseRecords, opts Options) *Service {
	return &Service{store: store, records: records, opts: opts}
}

type ProgressResult struct {
	LearningPathKey    string   `json:"learning_path_key"`
	Progress           float64  `json:"progress"`
	RequiredCompletion *float64 `json:"required_completion"`
}

type GradeResult struct {
	LearningPathKey string  `json:"learning_path_key"`
	Grade           float64 `json:"grade"`
	RequiredGrade   float64 `json:"required_grade"`
}

type CertificateStatus struct {
	LearningPathKey    string  `json:"learning_path_key"`
	LearningPathUUID   string  `json:"learning_path_uuid"`
	Username           string  `json:"username"`
	IsEligible         bool    `json:"is_eligible"`
	Progress           float64 `json:"progress"`
	RequiredCompletion float64 `json:"required_completion"`
	Grade              float64 `json:"grade"`
	RequiredGrade      float64 `json:"required_grade"`
	Reason             string  `json:"reason"`
}

func (s *Service) criteria(ctx context.Context, path *types.LearningPath) (*types.LearningPathGradingCriteria, error) {
	gc, err := s.store.GetGradingCriteria(ctx, path.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return gc, err
}

// aggregateProgress is the mean completion across the steps of a path
func (s *Service) aggregateProgress(ctx context.Context, userID int64, steps []types.LearningPathStep) (float64, error) {
	if len(steps) == 0 {
		return 0, nil
	}
	var total float64
	for _, step := range steps {
		c, err := s.records.Completion(ctx, userID, step.CourseKey)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total / float64(len(steps)), nil
}

func (s *Service) grade(ctx context.Context, userID int64, gc *types.LearningPathGradingCriteria, steps []types.LearningPathStep) (float64, error) {
	grades := make(map[types.CourseKey]float64, len(steps))
	for _, step := range steps {
		g, err := s.records.Grade(ctx, userID, step.CourseKey)
		if err != nil {
			return 0, err
		}
		if g != nil {
			grades[step.CourseKey] = g.Percent
		}
	}
	return gc.CalculateGrade(steps, grades), nil
}

// Progress returns a learner's aggregate completion in a learning path
func (s *Service) Progress(ctx context.Context, user *types.User, path *types.LearningPath) (*ProgressResult, error) {
	steps, err := s.store.ListSteps(ctx, path.ID)
	if err != nil {
		return nil, err
	}
	p, err := s.aggregateProgress(ctx, user.ID, steps)
	if err != nil {
		return nil, err
	}
	result := &ProgressResult{LearningPathKey: path.Key.String(), Progress: p}
	gc, err := s.criteria(ctx, path)
	if err != nil {
		return nil, err
	}
	if gc != nil {
		result.RequiredCompletion = &gc.RequiredCompletion
	}
	return result, nil
}

// Grade returns a learner's weighted grade in a learning path. It returns
// storage.ErrNotFound when the path has no grading criteria.
func (s *Service) Grade(ctx context.Context, user *types.User, path *types.LearningPath) (*GradeResult, error) {
	gc, err := s.criteria(ctx, path)
	if err != nil {
		return nil, err
	}
	if gc == nil {
		return nil, storage.ErrNotFound
	}
	steps, err := s.store.ListSteps(ctx, path.ID)
	if err != nil {
		return nil, err
	}
	g, err := s.grade(ctx, user.ID, gc, steps)
	if err != nil {
		return nil, err
	}
	return &GradeResult{LearningPathKey: path.Key.String(), Grade: g, RequiredGrade: gc.RequiredGrade}, nil
}

// CertificateStatus reports whether a learner meets both the completion and
// grade thresholds of a learning path
func (s *Service) CertificateStatus(ctx context.Context, user *types.User, path *types.LearningPath) (*CertificateStatus, error) {
	status := &CertificateStatus{
		LearningPathKey:    path.Key.String(),
		LearningPathUUID:   path.UUID.String(),
		Username:           user.Username,
		RequiredCompletion: types.DefaultRequiredCompletion,
		RequiredGrade:      types.DefaultRequiredGrade,
	}
	if !s.opts.CertificatesEnabled {
		status.Reason = ReasonCredentialsDisabled
		return status, nil
	}

	steps, err := s.store.ListSteps(ctx, path.ID)
	if err != nil {
		return nil, err
	}
	if status.Progress, err = s.aggregateProgress(ctx, user.ID, steps); err != nil {
		return nil, err
	}

	log := logger.L()
	gc, err := s.criteria(ctx, path)
	if err != nil {
		return nil, err
	}
	if gc == nil {
		log.Warn("[Credentials] No grading criteria, cannot check certificate eligibility", "learning_path", path.Key.String())
		status.Reason = ReasonNoGradingCriteria
		return status, nil
	}
	status.RequiredCompletion = gc.RequiredCompletion
	status.RequiredGrade = gc.RequiredGrade
	if status.Grade, err = s.grade(ctx, user.ID, gc, steps); err != nil {
		return nil, err
	}

	switch {
	case status.Progress < gc.RequiredCompletion:
		status.Reason = ReasonInsufficientCompletion
	case status.Grade < gc.RequiredGrade:
		status.Reason = ReasonInsufficientGrade
	default:
		status.IsEligible = true
		status.Reason = ReasonEligible
		log.Info("[Credentials] User is eligible for certificate",
			"user", user.Username, "learning_path", path.Key.String(),
			"progress", status.Progress, "grade", status.Grade)
		return status, nil
	}
	log.Debug("[Credentials] User not eligible for certificate",
		"user", user.Username, "learning_path", path.Key.String(), "reason", status.Reason)
	return status, nil
}

// RunMode is one run of a course in the program view
type RunMode struct {
	CourseKey string `json:"course_key"`
	RunKey    string `json:"run_key"`
}

// CourseCode groups the runs of one course in the program view
type CourseCode struct {
	Key      string    `json:"key"`
	RunModes []RunMode `json:"run_modes"`
}

// Program is a learning path as catalog discovery ingests it
type Program struct {
	UUID            string            `json:"uuid"`
	Name            string            `json:"name"`
	MarketingSlug   string            `json:"marketing_slug"`
	Title           string            `json:"title"`
	Subtitle        string            `json:"subtitle"`
	Status          string            `json:"status"`
	BannerImageURLs map[string]string `json:"banner_image_urls"`
	Organizations   []string          `json:"organizations"`
	CourseCodes     []CourseCode      `json:"course_codes"`
}

// AsProgram returns the program view of a learning path. Course codes keep
// the order in which courses first appear in the steps.
func (s *Service) AsProgram(ctx context.Context, path *types.LearningPath) (*Program, error) {
	steps, err := s.store.ListSteps(ctx, path.ID)
	if err != nil {
		return nil, err
	}

	p := &Program{
		UUID:            path.UUID.String(),
		Name:            path.DisplayName,
		MarketingSlug:   path.Key.String(),
		Title:           path.DisplayName,
		Subtitle:        path.Subtitle,
		Status:          programStatus,
		BannerImageURLs: map[string]string{},
		Organizations:   []string{},
		CourseCodes:     []CourseCode{},
	}
	if path.Image != "" {
		p.BannerImageURLs[bannerSize] = s.imageURL(path.Image)
	}

	index := map[string]int{}
	for _, step := range steps {
		mode := RunMode{CourseKey: step.CourseKey.String(), RunKey: step.CourseKey.Run}
		if i, ok := index[step.CourseKey.Course]; ok {
			p.CourseCodes[i].RunModes = append(p.CourseCodes[i].RunModes, mode)
			continue
		}
		index[step.CourseKey.Course] = len(p.CourseCodes)
		p.CourseCodes = append(p.CourseCodes, CourseCode{Key: step.CourseKey.Course, RunModes: []RunMode{mode}})
	}
	return p, nil
}

func (s *Service) imageURL(image string) string {
	if s.opts.MediaURL == "" {
		return "/" + strings.TrimPrefix(image, "/")
	}
	return strings.TrimSuffix(s.opts.MediaURL, "/") + "/" + strings.TrimPrefix(image, "/")
}
