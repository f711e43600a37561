package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/learningpaths/learningpaths/pkg/types"
)

// ----- Course Runs -----

// UpsertCourseRun records the schedule of a course
func (db *DB) UpsertCourseRun(ctx context.Context, run *types.CourseRun) error {
	_, err := db.exec(ctx, `INSERT INTO course_runs (course_key, start_at, end_at) VALUES (?, ?, ?)
		ON CONFLICT (course_key) DO UPDATE SET start_at = excluded.start_at, end_at = excluded.end_at`,
		run.CourseKey.String(), nullTime(run.Start), nullTime(run.End))
	return err
}

// GetCourseRun returns the schedule of a course
func (db *DB) GetCourseRun(ctx context.Context, course types.CourseKey) (*types.CourseRun, error) {
	var start, end sql.NullInt64
	err := db.queryRow(ctx, "SELECT start_at, end_at FROM course_runs WHERE course_key = ?", course.String()).
		Scan(&start, &end)
	if err != nil {
		return nil, mapError(err)
	}
	return &types.CourseRun{CourseKey: course, Start: ptrTime(start), End: ptrTime(end)}, nil
}

// ----- Course Enrollments -----

const courseEnrollmentColumns = "id, user_id, course_key, mode, is_active, created_at, modified_at"

func scanCourseEnrollment(row interface{ Scan(...any) error }) (*types.CourseEnrollment, error) {
	var e types.CourseEnrollment
	var course, mode string
	var created, modified int64
	err := row.Scan(&e.ID, &e.UserID, &course, &mode, &e.IsActive, &created, &modified)
	if err != nil {
		return nil, mapError(err)
	}
	if e.CourseKey, err = types.ParseCourseKey(course); err != nil {
		return nil, fmt.Errorf("course enrollment %d: %w", e.ID, err)
	}
	e.Mode = types.EnrollmentMode(mode)
	e.Created = fromTS(created)
	e.Modified = fromTS(modified)
	return &e, nil
}

// GetCourseEnrollment retrieves a user's enrollment in a course
func (db *DB) GetCourseEnrollment(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseEnrollment, error) {
	return scanCourseEnrollment(db.queryRow(ctx,
		"SELECT "+courseEnrollmentColumns+" FROM course_enrollments WHERE user_id = ? AND course_key = ?",
		userID, course.String()))
}

// CreateCourseEnrollment stores a new course enrollment
func (db *DB) CreateCourseEnrollment(ctx context.Context, e *types.CourseEnrollment) error {
	t := now()
	id, err := db.insert(ctx, `INSERT INTO course_enrollments (user_id, course_key, mode, is_active, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)`, e.UserID, e.CourseKey.String(), string(e.Mode), e.IsActive, ts(t), ts(t))
	if err != nil {
		return err
	}
	e.ID = id
	e.Created = fromTS(ts(t))
	e.Modified = e.Created
	return nil
}

// UpdateCourseEnrollment saves the mode and active flag of a course enrollment
func (db *DB) UpdateCourseEnrollment(ctx context.Context, e *types.CourseEnrollment) error {
	t := now()
	res, err := db.exec(ctx, "UPDATE course_enrollments SET mode = ?, is_active = ?, modified_at = ? WHERE id = ?",
		string(e.Mode), e.IsActive, ts(t), e.ID)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	e.Modified = fromTS(ts(t))
	return nil
}

// ListCourseEnrollments returns a user's course enrollments
func (db *DB) ListCourseEnrollments(ctx context.Context, userID int64) ([]types.CourseEnrollment, error) {
	rows, err := db.query(ctx, "SELECT "+courseEnrollmentColumns+" FROM course_enrollments WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CourseEnrollment
	for rows.Next() {
		e, err := scanCourseEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ----- Grades -----

// UpsertCourseGrade records a user's grade in a course
func (db *DB) UpsertCourseGrade(ctx context.Context, g *types.CourseGrade) error {
	t := now()
	_, err := db.exec(ctx, `INSERT INTO course_grades (user_id, course_key, percent, passed, modified_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, course_key) DO UPDATE SET percent = excluded.percent, passed = excluded.passed,
		modified_at = excluded.modified_at`,
		g.UserID, g.CourseKey.String(), g.Percent, g.Passed, ts(t))
	if err != nil {
		return err
	}
	g.Modified = fromTS(ts(t))
	return nil
}

// GetCourseGrade returns a user's grade in a course
func (db *DB) GetCourseGrade(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseGrade, error) {
	g := types.CourseGrade{UserID: userID, CourseKey: course}
	var modified int64
	err := db.queryRow(ctx, "SELECT percent, passed, modified_at FROM course_grades WHERE user_id = ? AND course_key = ?",
		userID, course.String()).Scan(&g.Percent, &g.Passed, &modified)
	if err != nil {
		return nil, mapError(err)
	}
	g.Modified = fromTS(modified)
	return &g, nil
}

// ----- Completion -----

// UpsertCourseCompletion records a user's unit completion counts in a course
func (db *DB) UpsertCourseCompletion(ctx context.Context, c *types.CourseCompletion) error {
	t := now()
	_, err := db.exec(ctx, `INSERT INTO course_completions (user_id, course_key, complete_count, incomplete_count, locked_count, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, course_key) DO UPDATE SET complete_count = excluded.complete_count,
		incomplete_count = excluded.incomplete_count, locked_count = excluded.locked_count, modified_at = excluded.modified_at`,
		c.UserID, c.CourseKey.String(), c.Complete, c.Incomplete, c.Locked, ts(t))
	if err != nil {
		return err
	}
	c.Modified = fromTS(ts(t))
	return nil
}

// GetCourseCompletion returns a user's completion counts in a course
func (db *DB) GetCourseCompletion(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseCompletion, error) {
	c := types.CourseCompletion{UserID: userID, CourseKey: course}
	var modified int64
	err := db.queryRow(ctx, `SELECT complete_count, incomplete_count, locked_count, modified_at
		FROM course_completions WHERE user_id = ? AND course_key = ?`, userID, course.String()).
		Scan(&c.Complete, &c.Incomplete, &c.Locked, &modified)
	if err != nil {
		return nil, mapError(err)
	}
	c.Modified = fromTS(modified)
	return &c, nil
}

// ----- Prerequisites and Milestones -----

// AddCoursePrerequisite declares that course requires required first
func (db *DB) AddCoursePrerequisite(ctx context.Context, course, required types.CourseKey) error {
	_, err := db.exec(ctx, "INSERT INTO course_prerequisites (course_key, required_course) VALUES (?, ?)",
		course.String(), required.String())
	return err
}

// ListCoursePrerequisites returns the courses required before course
func (db *DB) ListCoursePrerequisites(ctx context.Context, course types.CourseKey) ([]types.CoursePrerequisite, error) {
	rows, err := db.query(ctx, "SELECT required_course FROM course_prerequisites WHERE course_key = ? ORDER BY required_course",
		course.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CoursePrerequisite
	for rows.Next() {
		var required string
		if err := rows.Scan(&required); err != nil {
			return nil, err
		}
		key, err := types.ParseCourseKey(required)
		if err != nil {
			return nil, err
		}
		out = append(out, types.CoursePrerequisite{CourseKey: course, RequiredCourse: key})
	}
	return out, rows.Err()
}

// FulfillMilestone marks course as fulfilled for a user. It returns false if
// the milestone was already fulfilled.
func (db *DB) FulfillMilestone(ctx context.Context, userID int64, course types.CourseKey) (bool, error) {
	res, err := db.exec(ctx, `INSERT INTO course_milestones (user_id, course_key, fulfilled_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, course_key) DO NOTHING`, userID, course.String(), ts(now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetMilestone returns a user's fulfilled milestone for a course
func (db *DB) GetMilestone(ctx context.Context, userID int64, course types.CourseKey) (*types.CourseMilestone, error) {
	var fulfilled int64
	err := db.queryRow(ctx, "SELECT fulfilled_at FROM course_milestones WHERE user_id = ? AND course_key = ?",
		userID, course.String()).Scan(&fulfilled)
	if err != nil {
		return nil, mapError(err)
	}
	return &types.CourseMilestone{UserID: userID, CourseKey: course, FulfilledAt: fromTS(fulfilled)}, nil
}
