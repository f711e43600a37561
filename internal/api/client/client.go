package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/learningpaths/learningpaths/internal/enrollment"
	"github.com/learningpaths/learningpaths/internal/groups"
	"github.com/learningpaths/learningpaths/internal/models"
	"github.com/learningpaths/learningpaths/internal/progress"
	"github.com/learningpaths/learningpaths/pkg/types"
)

// APIError is a non-2xx response from the daemon
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (status %d): %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// WithToken returns a copy of the client that authenticates with token
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Health checks if the daemon is healthy
func (c *Client) Health() error {
	if err := c.do("GET", "/api/v1/health", nil, nil); err != nil {
		return fmt.Errorf("daemon unhealthy: %w", err)
	}
	return nil
}

// GetStatus returns the daemon status
func (c *Client) GetStatus() (map[string]interface{}, error) {
	var status map[string]interface{}
	if err := c.do("GET", "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// Shutdown requests daemon shutdown
func (c *Client) Shutdown() error {
	return c.do("POST", "/api/v1/admin/shutdown", nil, nil)
}

// Surface returns the compatibility model surface
func (c *Client) Surface() (map[string][]models.Export, []string, error) {
	var result struct {
		Groups  []string                   `json:"groups"`
		Exports map[string][]models.Export `json:"exports"`
	}
	if err := c.do("GET", "/api/v1/surface", nil, &result); err != nil {
		return nil, nil, err
	}
	return result.Exports, result.Groups, nil
}

// ----- Users -----

// RegisterUser creates a user and returns it with the number of pending
// enrollments converted
func (c *Client) RegisterUser(username, email string, staff bool) (*types.User, int, error) {
	var result struct {
		User      *types.User `json:"user"`
		Converted int         `json:"enrollments_converted"`
	}
	body := map[string]interface{}{"username": username, "email": email, "is_staff": staff}
	if err := c.do("POST", "/api/v1/users", body, &result); err != nil {
		return nil, 0, err
	}
	return result.User, result.Converted, nil
}

// IssueToken returns a bearer token for a user
func (c *Client) IssueToken(username string) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	if err := c.do("POST", "/api/v1/tokens", map[string]string{"username": username}, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

// Me returns the authenticated user
func (c *Client) Me() (*types.User, error) {
	var user types.User
	if err := c.do("GET", "/api/v1/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns every user account
func (c *Client) ListUsers() ([]types.User, error) {
	var result struct {
		Users []types.User `json:"users"`
	}
	if err := c.do("GET", "/api/v1/users", nil, &result); err != nil {
		return nil, err
	}
	return result.Users, nil
}

// ----- Learning paths -----

// ListLearningPaths returns the learning paths visible to the caller
func (c *Client) ListLearningPaths() ([]types.VisibleLearningPath, error) {
	var result struct {
		LearningPaths []types.VisibleLearningPath `json:"learning_paths"`
	}
	if err := c.do("GET", "/api/v1/learning-paths", nil, &result); err != nil {
		return nil, err
	}
	return result.LearningPaths, nil
}

// LearningPathDetail is a learning path with its steps, skills and criteria
type LearningPathDetail struct {
	LearningPath    types.VisibleLearningPath         `json:"learning_path"`
	Steps           []types.LearningPathStep          `json:"steps"`
	RequiredSkills  []types.RequiredSkill             `json:"required_skills"`
	AcquiredSkills  []types.AcquiredSkill             `json:"acquired_skills"`
	GradingCriteria types.LearningPathGradingCriteria `json:"grading_criteria"`
}

// GetLearningPath returns one learning path with its steps and skills
func (c *Client) GetLearningPath(key string) (*LearningPathDetail, error) {
	var detail LearningPathDetail
	if err := c.do("GET", pathURL(key, ""), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CreateLearningPath creates a learning path from its editable fields
func (c *Client) CreateLearningPath(fields map[string]interface{}) (*types.LearningPath, error) {
	var lp types.LearningPath
	if err := c.do("POST", "/api/v1/learning-paths", fields, &lp); err != nil {
		return nil, err
	}
	return &lp, nil
}

// UpdateLearningPath changes the given fields of a learning path
func (c *Client) UpdateLearningPath(key string, fields map[string]interface{}) (*types.LearningPath, error) {
	var lp types.LearningPath
	if err := c.do("PATCH", pathURL(key, ""), fields, &lp); err != nil {
		return nil, err
	}
	return &lp, nil
}

// DeleteLearningPath deletes a learning path
func (c *Client) DeleteLearningPath(key string) error {
	return c.do("DELETE", pathURL(key, ""), nil, nil)
}

// AddStep adds a course to a learning path
func (c *Client) AddStep(key, courseKey string, order *int, weight *float64) (*types.LearningPathStep, error) {
	body := map[string]interface{}{"course_key": courseKey}
	if order != nil {
		body["order"] = *order
	}
	if weight != nil {
		body["weight"] = *weight
	}
	var step types.LearningPathStep
	if err := c.do("POST", pathURL(key, "/steps"), body, &step); err != nil {
		return nil, err
	}
	return &step, nil
}

// ListPrograms returns the visible learning paths in program form
func (c *Client) ListPrograms() ([]progress.Program, error) {
	var result struct {
		Programs []progress.Program `json:"programs"`
	}
	if err := c.do("GET", "/api/v1/programs", nil, &result); err != nil {
		return nil, err
	}
	return result.Programs, nil
}

// ----- Skills -----

func (c *Client) ListSkills() ([]types.Skill, error) {
	var result struct {
		Skills []types.Skill `json:"skills"`
	}
	if err := c.do("GET", "/api/v1/skills", nil, &result); err != nil {
		return nil, err
	}
	return result.Skills, nil
}

func (c *Client) CreateSkill(displayName string) (*types.Skill, error) {
	var skill types.Skill
	if err := c.do("POST", "/api/v1/skills", map[string]string{"display_name": displayName}, &skill); err != nil {
		return nil, err
	}
	return &skill, nil
}

// AddPathSkill links a skill to a learning path as required or acquired
func (c *Client) AddPathSkill(key string, kind types.SkillKind, skillID int64, level *int) (*types.LearningPathSkill, error) {
	body := map[string]interface{}{"skill_id": skillID}
	if level != nil {
		body["level"] = *level
	}
	var ps types.LearningPathSkill
	if err := c.do("POST", pathURL(key, "/skills/"+string(kind)), body, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// ----- Enrollments -----

// Enroll enrolls a user in a learning path. An empty username enrolls the
// caller. It reports whether the enrollment was newly created.
func (c *Client) Enroll(key, username string) (*types.LearningPathEnrollment, bool, error) {
	var e types.LearningPathEnrollment
	status, err := c.doStatus("POST", pathURL(key, "/enrollments"), map[string]string{"username": username}, &e)
	if err != nil {
		return nil, false, err
	}
	return &e, status == http.StatusCreated, nil
}

// Unenroll deactivates a user's enrollment in a learning path
func (c *Client) Unenroll(key, username string) error {
	p := pathURL(key, "/enrollments")
	if username != "" {
		p += "?username=" + url.QueryEscape(username)
	}
	return c.do("DELETE", p, nil, nil)
}

// ListEnrollments returns enrollments, optionally for one user
func (c *Client) ListEnrollments(username string) ([]enrollment.Detail, error) {
	p := "/api/v1/enrollments"
	if username != "" {
		p += "?username=" + url.QueryEscape(username)
	}
	var result struct {
		Enrollments []enrollment.Detail `json:"enrollments"`
	}
	if err := c.do("GET", p, nil, &result); err != nil {
		return nil, err
	}
	return result.Enrollments, nil
}

// PendingEnrollments returns the allowed enrollments still waiting for a registration
func (c *Client) PendingEnrollments(key string) ([]types.LearningPathEnrollmentAllowed, error) {
	var result struct {
		Pending []types.LearningPathEnrollmentAllowed `json:"pending"`
	}
	if err := c.do("GET", "/api/v1/learning-paths/"+url.PathEscape(key)+"/enrollments/pending", nil, &result); err != nil {
		return nil, err
	}
	return result.Pending, nil
}

func (c *Client) BulkEnroll(req enrollment.BulkRequest) (*enrollment.BulkEnrollResult, error) {
	var result enrollment.BulkEnrollResult
	if err := c.do("POST", "/api/v1/enrollments/bulk", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) BulkUnenroll(req enrollment.BulkRequest) (*enrollment.BulkUnenrollResult, error) {
	var result enrollment.BulkUnenrollResult
	if err := c.do("DELETE", "/api/v1/enrollments/bulk", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ----- Progress -----

func (c *Client) Progress(key, username string) (*progress.ProgressResult, error) {
	var result progress.ProgressResult
	if err := c.do("GET", pathURL(key, "/progress")+userQuery(username), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Grade(key, username string) (*progress.GradeResult, error) {
	var result progress.GradeResult
	if err := c.do("GET", pathURL(key, "/grade")+userQuery(username), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Certificate(key, username string) (*progress.CertificateStatus, error) {
	var result progress.CertificateStatus
	if err := c.do("GET", pathURL(key, "/certificate")+userQuery(username), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ----- Groups -----

func (c *Client) ListGroups() ([]types.Group, error) {
	var result struct {
		Groups []types.Group `json:"groups"`
	}
	if err := c.do("GET", "/api/v1/groups", nil, &result); err != nil {
		return nil, err
	}
	return result.Groups, nil
}

func (c *Client) CreateGroup(name string) (*types.Group, error) {
	var g types.Group
	if err := c.do("POST", "/api/v1/groups", map[string]string{"name": name}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) AddMembers(groupID int64, userIDs []int64) (*groups.MembershipResult, error) {
	var result groups.MembershipResult
	p := fmt.Sprintf("/api/v1/groups/%d/members", groupID)
	if err := c.do("POST", p, map[string][]int64{"user_ids": userIDs}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) RemoveMembers(groupID int64, userIDs []int64) (*groups.MembershipResult, error) {
	var result groups.MembershipResult
	p := fmt.Sprintf("/api/v1/groups/%d/members", groupID)
	if err := c.do("DELETE", p, map[string][]int64{"user_ids": userIDs}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateAssignment assigns a group to a course
func (c *Client) CreateAssignment(groupID int64, courseKey string, mode types.EnrollmentMode, autoEnroll bool) (*types.GroupCourseAssignment, error) {
	body := map[string]interface{}{
		"group_id":        groupID,
		"course_id":       courseKey,
		"enrollment_mode": mode,
		"auto_enroll":     autoEnroll,
	}
	var a types.GroupCourseAssignment
	if err := c.do("POST", "/api/v1/group-course-assignments", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListAssignments() ([]types.GroupCourseAssignment, error) {
	var result struct {
		Assignments []types.GroupCourseAssignment `json:"assignments"`
	}
	if err := c.do("GET", "/api/v1/group-course-assignments", nil, &result); err != nil {
		return nil, err
	}
	return result.Assignments, nil
}

func (c *Client) DeleteAssignment(id int64) error {
	return c.do("DELETE", fmt.Sprintf("/api/v1/group-course-assignments/%d", id), nil, nil)
}

func (c *Client) BulkEnrollGroups(req groups.BulkRequest) (*groups.BulkResult, error) {
	var result groups.BulkResult
	if err := c.do("POST", "/api/v1/group-enrollments/bulk", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SyncGroupEnrollments(req groups.SyncRequest) (*groups.SyncResult, error) {
	var result groups.SyncResult
	if err := c.do("POST", "/api/v1/group-enrollments/sync", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ----- Course records -----

func (c *Client) RecordGrade(courseKey, username string, percent float64, passed bool) error {
	body := map[string]interface{}{"username": username, "percent": percent, "passed": passed}
	return c.do("POST", courseURL(courseKey, "/grades"), body, nil)
}

func (c *Client) RecordCompletion(courseKey, username string, complete, incomplete int) error {
	body := map[string]interface{}{"username": username, "complete_count": complete, "incomplete_count": incomplete}
	return c.do("POST", courseURL(courseKey, "/completion"), body, nil)
}

// AutoStartDaemon reports how to start the daemon when it is not running
func (c *Client) AutoStartDaemon() error {
	if err := c.Health(); err == nil {
		return nil // Already running
	}
	return fmt.Errorf("daemon is not running, please start it with: learningpaths daemon start")
}

// HTTP helper methods

func pathURL(key, suffix string) string {
	return "/api/v1/learning-paths/" + url.PathEscape(key) + suffix
}

func courseURL(key, suffix string) string {
	return "/api/v1/courses/" + url.PathEscape(key) + suffix
}

func userQuery(username string) string {
	if username == "" {
		return ""
	}
	return "?username=" + url.QueryEscape(username)
}

func (c *Client) do(method, path string, body, out interface{}) error {
	_, err := c.doStatus(method, path, body, out)
	return err
}

// doStatus sends a JSON request and decodes a JSON response into out
func (c *Client) doStatus(method, path string, body, out interface{}) (int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
