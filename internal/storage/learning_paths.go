package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/learningpaths/learningpaths/pkg/types"
)

const learningPathColumns = `id, path_key, uuid, display_name, subtitle, description, image, level,
	duration, time_commitment, sequential, invite_only, created_at, modified_at`

func scanLearningPath(row interface{ Scan(...any) error }) (*types.LearningPath, error) {
	var lp types.LearningPath
	var key, id, level string
	var created, modified int64
	err := row.Scan(&lp.ID, &key, &id, &lp.DisplayName, &lp.Subtitle, &lp.Description, &lp.Image, &level,
		&lp.Duration, &lp.TimeCommitment, &lp.Sequential, &lp.InviteOnly, &created, &modified)
	if err != nil {
		return nil, mapError(err)
	}
	if lp.Key, err = types.ParseLearningPathKey(key); err != nil {
		return nil, fmt.Errorf("learning path %d: %w", lp.ID, err)
	}
	if lp.UUID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("learning path %d: invalid uuid: %w", lp.ID, err)
	}
	lp.Level = types.Level(level)
	lp.Created = fromTS(created)
	lp.Modified = fromTS(modified)
	return &lp, nil
}

// CreateLearningPath stores a new learning path together with its default
// grading criteria. The path's ID and timestamps are set on success.
func (db *DB) CreateLearningPath(ctx context.Context, lp *types.LearningPath) error {
	if err := lp.Validate(); err != nil {
		return err
	}
	if lp.UUID == uuid.Nil {
		lp.UUID = uuid.New()
	}
	t := now()
	id, err := db.insert(ctx, `INSERT INTO learning_paths (path_key, uuid, display_name, subtitle, description,
		image, level, duration, time_commitment, sequential, invite_only, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lp.Key.String(), lp.UUID.String(), lp.DisplayName, lp.Subtitle, lp.Description,
		lp.Image, string(lp.Level), lp.Duration, lp.TimeCommitment, lp.Sequential, lp.InviteOnly, ts(t), ts(t),
	)
	if err != nil {
		return err
	}

	criteria := types.DefaultGradingCriteria(id)
	if _, err := db.insert(ctx,
		"INSERT INTO learning_path_grading_criteria (learning_path_id, required_completion, required_grade) VALUES (?, ?, ?)",
		id, criteria.RequiredCompletion, criteria.RequiredGrade,
	); err != nil {
		return fmt.Errorf("creating grading criteria: %w", err)
	}

	lp.ID = id
	lp.Created = fromTS(ts(t))
	lp.Modified = lp.Created
	return nil
}

// GetLearningPath retrieves a learning path by ID
func (db *DB) GetLearningPath(ctx context.Context, id int64) (*types.LearningPath, error) {
	return scanLearningPath(db.queryRow(ctx, "SELECT "+learningPathColumns+" FROM learning_paths WHERE id = ?", id))
}

// GetLearningPathByKey retrieves a learning path by key
func (db *DB) GetLearningPathByKey(ctx context.Context, key types.LearningPathKey) (*types.LearningPath, error) {
	return scanLearningPath(db.queryRow(ctx,
		"SELECT "+learningPathColumns+" FROM learning_paths WHERE path_key = ?", key.String()))
}

// ListLearningPaths returns every learning path ordered by key
func (db *DB) ListLearningPaths(ctx context.Context) ([]types.LearningPath, error) {
	rows, err := db.query(ctx, "SELECT "+learningPathColumns+" FROM learning_paths ORDER BY path_key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []types.LearningPath
	for rows.Next() {
		lp, err := scanLearningPath(rows)
		if err != nil {
			return nil, err
		}
		paths = append(paths, *lp)
	}
	return paths, rows.Err()
}

// UpdateLearningPath saves the mutable fields of a learning path. The key
// and UUID cannot change.
func (db *DB) UpdateLearningPath(ctx context.Context, lp *types.LearningPath) error {
	if err := lp.Validate(); err != nil {
		return err
	}
	t := now()
	res, err := db.exec(ctx, `UPDATE learning_paths SET display_name = ?, subtitle = ?, description = ?,
		image = ?, level = ?, duration = ?, time_commitment = ?, sequential = ?, invite_only = ?, modified_at = ?
		WHERE id = ?`,
		lp.DisplayName, lp.Subtitle, lp.Description, lp.Image, string(lp.Level), lp.Duration,
		lp.TimeCommitment, lp.Sequential, lp.InviteOnly, ts(t), lp.ID,
	)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	lp.Modified = fromTS(ts(t))
	return nil
}

// DeleteLearningPath deletes a learning path. Steps, skills, grading
// criteria and enrollments are removed with it.
func (db *DB) DeleteLearningPath(ctx context.Context, id int64) error {
	res, err := db.exec(ctx, "DELETE FROM learning_paths WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affected(res)
}

// ----- Grading Criteria -----

// GetGradingCriteria returns the grading criteria of a learning path
func (db *DB) GetGradingCriteria(ctx context.Context, learningPathID int64) (*types.LearningPathGradingCriteria, error) {
	var gc types.LearningPathGradingCriteria
	err := db.queryRow(ctx, `SELECT id, learning_path_id, required_completion, required_grade
		FROM learning_path_grading_criteria WHERE learning_path_id = ?`, learningPathID,
	).Scan(&gc.ID, &gc.LearningPathID, &gc.RequiredCompletion, &gc.RequiredGrade)
	if err != nil {
		return nil, mapError(err)
	}
	return &gc, nil
}

// UpdateGradingCriteria saves the thresholds of a learning path
func (db *DB) UpdateGradingCriteria(ctx context.Context, gc *types.LearningPathGradingCriteria) error {
	res, err := db.exec(ctx, `UPDATE learning_path_grading_criteria SET required_completion = ?, required_grade = ?
		WHERE learning_path_id = ?`, gc.RequiredCompletion, gc.RequiredGrade, gc.LearningPathID)
	if err != nil {
		return err
	}
	return affected(res)
}

// ----- Steps -----

const stepColumns = "id, learning_path_id, course_key, position, weight, created_at, modified_at"

func scanStep(row interface{ Scan(...any) error }) (*types.LearningPathStep, error) {
	var s types.LearningPathStep
	var course string
	var order sql.NullInt64
	var created, modified int64
	if err := row.Scan(&s.ID, &s.LearningPathID, &course, &order, &s.Weight, &created, &modified); err != nil {
		return nil, mapError(err)
	}
	key, err := types.ParseCourseKey(course)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", s.ID, err)
	}
	s.CourseKey = key
	s.Order = ptrInt(order)
	s.Created = fromTS(created)
	s.Modified = fromTS(modified)
	return &s, nil
}

// AddStep adds a course to a learning path
func (db *DB) AddStep(ctx context.Context, step *types.LearningPathStep) error {
	if err := step.Validate(); err != nil {
		return err
	}
	t := now()
	id, err := db.insert(ctx, `INSERT INTO learning_path_steps (learning_path_id, course_key, position, weight, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		step.LearningPathID, step.CourseKey.String(), nullInt(step.Order), step.Weight, ts(t), ts(t),
	)
	if err != nil {
		return err
	}
	step.ID = id
	step.Created = fromTS(ts(t))
	step.Modified = step.Created
	return nil
}

// GetStep retrieves a step by ID
func (db *DB) GetStep(ctx context.Context, id int64) (*types.LearningPathStep, error) {
	return scanStep(db.queryRow(ctx, "SELECT "+stepColumns+" FROM learning_path_steps WHERE id = ?", id))
}

// ListSteps returns the steps of a learning path in order; unordered steps last
func (db *DB) ListSteps(ctx context.Context, learningPathID int64) ([]types.LearningPathStep, error) {
	rows, err := db.query(ctx, "SELECT "+stepColumns+" FROM learning_path_steps WHERE learning_path_id = ? ORDER BY id",
		learningPathID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []types.LearningPathStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	types.SortSteps(steps)
	return steps, nil
}

// ListPathsWithCourse returns the IDs of learning paths that include a course
func (db *DB) ListPathsWithCourse(ctx context.Context, course types.CourseKey) ([]int64, error) {
	rows, err := db.query(ctx, "SELECT learning_path_id FROM learning_path_steps WHERE course_key = ? ORDER BY learning_path_id",
		course.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateStep saves a step's order and weight
func (db *DB) UpdateStep(ctx context.Context, step *types.LearningPathStep) error {
	if err := step.Validate(); err != nil {
		return err
	}
	t := now()
	res, err := db.exec(ctx, "UPDATE learning_path_steps SET position = ?, weight = ?, modified_at = ? WHERE id = ?",
		nullInt(step.Order), step.Weight, ts(t), step.ID)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	step.Modified = fromTS(ts(t))
	return nil
}

// DeleteStep removes a step from its learning path
func (db *DB) DeleteStep(ctx context.Context, id int64) error {
	res, err := db.exec(ctx, "DELETE FROM learning_path_steps WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affected(res)
}
