package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/learningpaths/learningpaths/pkg/types"
)

const assignmentSelect = `SELECT a.id, a.group_id, g.name, a.course_key, a.enrollment_mode, a.auto_enroll, a.assigned_by,
	a.reason, a.is_active, a.created_at, a.modified_at
	FROM group_course_assignments a JOIN user_groups g ON g.id = a.group_id`

func scanAssignment(row interface{ Scan(...any) error }) (*types.GroupCourseAssignment, error) {
	var a types.GroupCourseAssignment
	var course, mode string
	var assignedBy sql.NullInt64
	var created, modified int64
	err := row.Scan(&a.ID, &a.GroupID, &a.GroupName, &course, &mode, &a.AutoEnroll, &assignedBy,
		&a.Reason, &a.IsActive, &created, &modified)
	if err != nil {
		return nil, mapError(err)
	}
	if a.CourseKey, err = types.ParseCourseKey(course); err != nil {
		return nil, fmt.Errorf("assignment %d: %w", a.ID, err)
	}
	a.EnrollmentMode = types.EnrollmentMode(mode)
	a.AssignedBy = ptrID(assignedBy)
	a.Created = fromTS(created)
	a.Modified = fromTS(modified)
	return &a, nil
}

// CreateAssignment stores a new group course assignment
func (db *DB) CreateAssignment(ctx context.Context, a *types.GroupCourseAssignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	t := now()
	id, err := db.insert(ctx, `INSERT INTO group_course_assignments (group_id, course_key, enrollment_mode, auto_enroll,
		assigned_by, reason, is_active, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.GroupID, a.CourseKey.String(), string(a.EnrollmentMode), a.AutoEnroll,
		nullID(a.AssignedBy), a.Reason, a.IsActive, ts(t), ts(t),
	)
	if err != nil {
		return err
	}
	a.ID = id
	a.Created = fromTS(ts(t))
	a.Modified = a.Created
	return nil
}

// GetAssignment retrieves an assignment by ID
func (db *DB) GetAssignment(ctx context.Context, id int64) (*types.GroupCourseAssignment, error) {
	return scanAssignment(db.queryRow(ctx, assignmentSelect+" WHERE a.id = ?", id))
}

// GetAssignmentFor retrieves the assignment of a group to a course
func (db *DB) GetAssignmentFor(ctx context.Context, groupID int64, course types.CourseKey) (*types.GroupCourseAssignment, error) {
	return scanAssignment(db.queryRow(ctx, assignmentSelect+" WHERE a.group_id = ? AND a.course_key = ?",
		groupID, course.String()))
}

// UpdateAssignment saves the mutable fields of an assignment
func (db *DB) UpdateAssignment(ctx context.Context, a *types.GroupCourseAssignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	t := now()
	res, err := db.exec(ctx, `UPDATE group_course_assignments SET enrollment_mode = ?, auto_enroll = ?, assigned_by = ?,
		reason = ?, is_active = ?, modified_at = ? WHERE id = ?`,
		string(a.EnrollmentMode), a.AutoEnroll, nullID(a.AssignedBy), a.Reason, a.IsActive, ts(t), a.ID)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	a.Modified = fromTS(ts(t))
	return nil
}

// DeleteAssignment deletes an assignment. Its audits are kept with no assignment.
func (db *DB) DeleteAssignment(ctx context.Context, id int64) error {
	res, err := db.exec(ctx, "DELETE FROM group_course_assignments WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affected(res)
}

// AssignmentFilter narrows ListAssignments. Zero fields match everything.
type AssignmentFilter struct {
	GroupID        int64
	CourseKey      types.CourseKey
	IDs            []int64
	ActiveOnly     bool
	AutoEnrollOnly bool
}

// ListAssignments returns assignments matching the filter, newest first
func (db *DB) ListAssignments(ctx context.Context, f AssignmentFilter) ([]types.GroupCourseAssignment, error) {
	var where []string
	var args []any
	if f.GroupID != 0 {
		where = append(where, "a.group_id = ?")
		args = append(args, f.GroupID)
	}
	if !f.CourseKey.IsZero() {
		where = append(where, "a.course_key = ?")
		args = append(args, f.CourseKey.String())
	}
	if len(f.IDs) > 0 {
		where = append(where, "a.id IN "+inClause(len(f.IDs)))
		args = append(args, int64Args(f.IDs)...)
	}
	if f.ActiveOnly {
		where = append(where, "a.is_active = ?")
		args = append(args, true)
	}
	if f.AutoEnrollOnly {
		where = append(where, "a.auto_enroll = ?")
		args = append(args, true)
	}
	q := assignmentSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY a.created_at DESC, a.id DESC"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.GroupCourseAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ----- Group Enrollment Audits -----

const groupAuditColumns = `id, assignment_id, user_id, email, enrolled_by, status, error_message, reason, org, role,
	created_at, modified_at`

// CreateGroupAudit stores a group course enrollment audit
func (db *DB) CreateGroupAudit(ctx context.Context, a *types.GroupCourseEnrollmentAudit) error {
	t := now()
	id, err := db.insert(ctx, `INSERT INTO group_course_enrollment_audits (assignment_id, user_id, email, enrolled_by,
		status, error_message, reason, org, role, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullID(a.AssignmentID), nullID(a.UserID), a.Email, nullID(a.EnrolledBy), string(a.Status),
		a.ErrorMessage, a.Reason, a.Org, a.Role, ts(t), ts(t),
	)
	if err != nil {
		return err
	}
	a.ID = id
	a.Created = fromTS(ts(t))
	a.Modified = a.Created
	return nil
}

// GroupAuditFilter narrows ListGroupAudits. Zero fields match everything.
type GroupAuditFilter struct {
	AssignmentID int64
	UserID       int64
	Status       types.GroupEnrollmentStatus
}

// ListGroupAudits returns group enrollment audits newest first
func (db *DB) ListGroupAudits(ctx context.Context, f GroupAuditFilter) ([]types.GroupCourseEnrollmentAudit, error) {
	var where []string
	var args []any
	if f.AssignmentID != 0 {
		where = append(where, "assignment_id = ?")
		args = append(args, f.AssignmentID)
	}
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := "SELECT " + groupAuditColumns + " FROM group_course_enrollment_audits"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.GroupCourseEnrollmentAudit
	for rows.Next() {
		var a types.GroupCourseEnrollmentAudit
		var assignmentID, userID, enrolledBy sql.NullInt64
		var status string
		var created, modified int64
		if err := rows.Scan(&a.ID, &assignmentID, &userID, &a.Email, &enrolledBy, &status, &a.ErrorMessage,
			&a.Reason, &a.Org, &a.Role, &created, &modified); err != nil {
			return nil, err
		}
		a.AssignmentID = ptrID(assignmentID)
		a.UserID = ptrID(userID)
		a.EnrolledBy = ptrID(enrolledBy)
		a.Status = types.GroupEnrollmentStatus(status)
		a.Created = fromTS(created)
		a.Modified = fromTS(modified)
		out = append(out, a)
	}
	return out, rows.Err()
}
