package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/learningpaths/learningpaths/pkg/types"
)

const enrollmentColumns = "id, user_id, learning_path_id, is_active, created_at, modified_at"

func scanEnrollment(row interface{ Scan(...any) error }) (*types.LearningPathEnrollment, error) {
	var e types.LearningPathEnrollment
	var created, modified int64
	if err := row.Scan(&e.ID, &e.UserID, &e.LearningPathID, &e.IsActive, &created, &modified); err != nil {
		return nil, mapError(err)
	}
	e.Created = fromTS(created)
	e.Modified = fromTS(modified)
	return &e, nil
}

// CreateEnrollment stores a new enrollment. It fails with ErrAlreadyExists
// if the user already has an enrollment record for the path.
func (db *DB) CreateEnrollment(ctx context.Context, e *types.LearningPathEnrollment) error {
	t := now()
	id, err := db.insert(ctx, `INSERT INTO learning_path_enrollments (user_id, learning_path_id, is_active, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?)`, e.UserID, e.LearningPathID, e.IsActive, ts(t), ts(t))
	if err != nil {
		return err
	}
	e.ID = id
	e.Created = fromTS(ts(t))
	e.Modified = e.Created
	return nil
}

// GetEnrollment retrieves the enrollment of a user in a learning path
func (db *DB) GetEnrollment(ctx context.Context, userID, learningPathID int64) (*types.LearningPathEnrollment, error) {
	return scanEnrollment(db.queryRow(ctx,
		"SELECT "+enrollmentColumns+" FROM learning_path_enrollments WHERE user_id = ? AND learning_path_id = ?",
		userID, learningPathID))
}

// GetEnrollmentByID retrieves an enrollment by ID
func (db *DB) GetEnrollmentByID(ctx context.Context, id int64) (*types.LearningPathEnrollment, error) {
	return scanEnrollment(db.queryRow(ctx, "SELECT "+enrollmentColumns+" FROM learning_path_enrollments WHERE id = ?", id))
}

// SetEnrollmentActive activates or deactivates an enrollment
func (db *DB) SetEnrollmentActive(ctx context.Context, e *types.LearningPathEnrollment, active bool) error {
	t := now()
	res, err := db.exec(ctx, "UPDATE learning_path_enrollments SET is_active = ?, modified_at = ? WHERE id = ?",
		active, ts(t), e.ID)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	e.IsActive = active
	e.Modified = fromTS(ts(t))
	return nil
}

// EnrollmentFilter narrows ListEnrollments. Zero fields match everything.
type EnrollmentFilter struct {
	UserID         int64
	LearningPathID int64
	ActiveOnly     bool
}

// ListEnrollments returns enrollments matching the filter, newest first
func (db *DB) ListEnrollments(ctx context.Context, f EnrollmentFilter) ([]types.LearningPathEnrollment, error) {
	var where []string
	var args []any
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.LearningPathID != 0 {
		where = append(where, "learning_path_id = ?")
		args = append(args, f.LearningPathID)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}
	q := "SELECT " + enrollmentColumns + " FROM learning_path_enrollments"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.LearningPathEnrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ActiveEnrollmentDates maps learning path IDs to the creation time of the
// user's active enrollment in that path
func (db *DB) ActiveEnrollmentDates(ctx context.Context, userID int64) (map[int64]time.Time, error) {
	enrollments, err := db.ListEnrollments(ctx, EnrollmentFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	dates := make(map[int64]time.Time, len(enrollments))
	for _, e := range enrollments {
		dates[e.LearningPathID] = e.Created
	}
	return dates, nil
}

// ----- Allowed Enrollments -----

const allowedColumns = "id, email, learning_path_id, user_id, is_active, created_at, modified_at"

func scanAllowed(row interface{ Scan(...any) error }) (*types.LearningPathEnrollmentAllowed, error) {
	var a types.LearningPathEnrollmentAllowed
	var userID sql.NullInt64
	var created, modified int64
	if err := row.Scan(&a.ID, &a.Email, &a.LearningPathID, &userID, &a.IsActive, &created, &modified); err != nil {
		return nil, mapError(err)
	}
	a.UserID = ptrID(userID)
	a.Created = fromTS(created)
	a.Modified = fromTS(modified)
	return &a, nil
}

// CreateAllowedEnrollment stores a pending enrollment for an email address
func (db *DB) CreateAllowedEnrollment(ctx context.Context, a *types.LearningPathEnrollmentAllowed) error {
	t := now()
	a.Email = strings.TrimSpace(a.Email)
	id, err := db.insert(ctx, `INSERT INTO learning_path_enrollments_allowed (email, learning_path_id, user_id, is_active, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)`, a.Email, a.LearningPathID, nullID(a.UserID), a.IsActive, ts(t), ts(t))
	if err != nil {
		return err
	}
	a.ID = id
	a.Created = fromTS(ts(t))
	a.Modified = a.Created
	return nil
}

// GetAllowedEnrollment retrieves the allowed enrollment for an email and path
func (db *DB) GetAllowedEnrollment(ctx context.Context, email string, learningPathID int64) (*types.LearningPathEnrollmentAllowed, error) {
	return scanAllowed(db.queryRow(ctx,
		"SELECT "+allowedColumns+" FROM learning_path_enrollments_allowed WHERE LOWER(email) = LOWER(?) AND learning_path_id = ?",
		strings.TrimSpace(email), learningPathID))
}

// UpdateAllowedEnrollment saves the active flag and bound user
func (db *DB) UpdateAllowedEnrollment(ctx context.Context, a *types.LearningPathEnrollmentAllowed) error {
	t := now()
	res, err := db.exec(ctx, "UPDATE learning_path_enrollments_allowed SET is_active = ?, user_id = ?, modified_at = ? WHERE id = ?",
		a.IsActive, nullID(a.UserID), ts(t), a.ID)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	a.Modified = fromTS(ts(t))
	return nil
}

// ListActiveAllowedForEmail returns the pending enrollments of an email address
func (db *DB) ListActiveAllowedForEmail(ctx context.Context, email string) ([]types.LearningPathEnrollmentAllowed, error) {
	return db.listAllowed(ctx, "WHERE LOWER(email) = LOWER(?) AND is_active = ?", strings.TrimSpace(email), true)
}

// ListAllowedForPath returns the allowed enrollments of a learning path
func (db *DB) ListAllowedForPath(ctx context.Context, learningPathID int64) ([]types.LearningPathEnrollmentAllowed, error) {
	return db.listAllowed(ctx, "WHERE learning_path_id = ?", learningPathID)
}

func (db *DB) listAllowed(ctx context.Context, where string, args ...any) ([]types.LearningPathEnrollmentAllowed, error) {
	rows, err := db.query(ctx, "SELECT "+allowedColumns+" FROM learning_path_enrollments_allowed "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.LearningPathEnrollmentAllowed
	for rows.Next() {
		a, err := scanAllowed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ----- Enrollment Audits -----

const auditColumns = `id, enrolled_by, enrollment_id, enrollment_allowed_id, state_transition, reason, org, role,
	created_at, modified_at`

func scanAudit(row interface{ Scan(...any) error }) (*types.LearningPathEnrollmentAudit, error) {
	var a types.LearningPathEnrollmentAudit
	var enrolledBy, enrollmentID, allowedID sql.NullInt64
	var transition string
	var created, modified int64
	err := row.Scan(&a.ID, &enrolledBy, &enrollmentID, &allowedID, &transition, &a.Reason, &a.Org, &a.Role,
		&created, &modified)
	if err != nil {
		return nil, mapError(err)
	}
	a.EnrolledBy = ptrID(enrolledBy)
	a.EnrollmentID = ptrID(enrollmentID)
	a.EnrollmentAllowedID = ptrID(allowedID)
	a.StateTransition = types.StateTransition(transition)
	a.Created = fromTS(created)
	a.Modified = fromTS(modified)
	return &a, nil
}

// CreateEnrollmentAudit stores an enrollment audit record
func (db *DB) CreateEnrollmentAudit(ctx context.Context, a *types.LearningPathEnrollmentAudit) error {
	if a.StateTransition == "" {
		a.StateTransition = types.DefaultTransitionState
	}
	t := now()
	id, err := db.insert(ctx, `INSERT INTO learning_path_enrollment_audits (enrolled_by, enrollment_id, enrollment_allowed_id,
		state_transition, reason, org, role, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullID(a.EnrolledBy), nullID(a.EnrollmentID), nullID(a.EnrollmentAllowedID),
		string(a.StateTransition), a.Reason, a.Org, a.Role, ts(t), ts(t),
	)
	if err != nil {
		return err
	}
	a.ID = id
	a.Created = fromTS(ts(t))
	a.Modified = a.Created
	return nil
}

// LastEnrollmentAudit returns the most recent audit of an enrollment
func (db *DB) LastEnrollmentAudit(ctx context.Context, enrollmentID int64) (*types.LearningPathEnrollmentAudit, error) {
	return scanAudit(db.queryRow(ctx, "SELECT "+auditColumns+
		" FROM learning_path_enrollment_audits WHERE enrollment_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", enrollmentID))
}

// LastAllowedAudit returns the most recent audit of an allowed enrollment
func (db *DB) LastAllowedAudit(ctx context.Context, allowedID int64) (*types.LearningPathEnrollmentAudit, error) {
	return scanAudit(db.queryRow(ctx, "SELECT "+auditColumns+
		" FROM learning_path_enrollment_audits WHERE enrollment_allowed_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", allowedID))
}

// AuditFilter narrows ListEnrollmentAudits. Zero fields match everything.
type AuditFilter struct {
	EnrollmentID        int64
	EnrollmentAllowedID int64
}

// ListEnrollmentAudits returns audits oldest first
func (db *DB) ListEnrollmentAudits(ctx context.Context, f AuditFilter) ([]types.LearningPathEnrollmentAudit, error) {
	var where []string
	var args []any
	if f.EnrollmentID != 0 {
		where = append(where, "enrollment_id = ?")
		args = append(args, f.EnrollmentID)
	}
	if f.EnrollmentAllowedID != 0 {
		where = append(where, "enrollment_allowed_id = ?")
		args = append(args, f.EnrollmentAllowedID)
	}
	q := "SELECT " + auditColumns + " FROM learning_path_enrollment_audits"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.LearningPathEnrollmentAudit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// LinkAllowedAudits attaches the audits of an allowed enrollment to the
// enrollment it turned into
func (db *DB) LinkAllowedAudits(ctx context.Context, allowedID, enrollmentID int64) error {
	_, err := db.exec(ctx, "UPDATE learning_path_enrollment_audits SET enrollment_id = ?, modified_at = ? WHERE enrollment_allowed_id = ?",
		enrollmentID, ts(now()), allowedID)
	return err
}
