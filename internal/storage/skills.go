package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/learningpaths/learningpaths/pkg/types"
)

// CreateSkill creates a new skill
func (db *DB) CreateSkill(ctx context.Context, displayName string) (*types.Skill, error) {
	t := now()
	id, err := db.insert(ctx, "INSERT INTO skills (display_name, created_at, modified_at) VALUES (?, ?, ?)",
		displayName, ts(t), ts(t))
	if err != nil {
		return nil, err
	}
	return db.GetSkill(ctx, id)
}

// GetSkill retrieves a skill by ID
func (db *DB) GetSkill(ctx context.Context, id int64) (*types.Skill, error) {
	var s types.Skill
	var created, modified int64
	err := db.queryRow(ctx, "SELECT id, display_name, created_at, modified_at FROM skills WHERE id = ?", id).
		Scan(&s.ID, &s.DisplayName, &created, &modified)
	if err != nil {
		return nil, mapError(err)
	}
	s.Created = fromTS(created)
	s.Modified = fromTS(modified)
	return &s, nil
}

// ListSkills returns all skills ordered by name
func (db *DB) ListSkills(ctx context.Context) ([]types.Skill, error) {
	rows, err := db.query(ctx, "SELECT id, display_name, created_at, modified_at FROM skills ORDER BY display_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skills []types.Skill
	for rows.Next() {
		var s types.Skill
		var created, modified int64
		if err := rows.Scan(&s.ID, &s.DisplayName, &created, &modified); err != nil {
			return nil, err
		}
		s.Created = fromTS(created)
		s.Modified = fromTS(modified)
		skills = append(skills, s)
	}
	return skills, rows.Err()
}

// DeleteSkill deletes a skill and detaches it from every learning path
func (db *DB) DeleteSkill(ctx context.Context, id int64) error {
	res, err := db.exec(ctx, "DELETE FROM skills WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affected(res)
}

// AddPathSkill links a skill to a learning path as required or acquired
func (db *DB) AddPathSkill(ctx context.Context, kind types.SkillKind, ps *types.LearningPathSkill) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid skill kind %q", kind)
	}
	t := now()
	id, err := db.insert(ctx, `INSERT INTO learning_path_skills (kind, learning_path_id, skill_id, level, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(kind), ps.LearningPathID, ps.SkillID, nullInt(ps.Level), ts(t), ts(t),
	)
	if err != nil {
		return err
	}
	ps.ID = id
	ps.Created = fromTS(ts(t))
	ps.Modified = ps.Created
	return nil
}

// RemovePathSkill unlinks a skill from a learning path
func (db *DB) RemovePathSkill(ctx context.Context, kind types.SkillKind, learningPathID, skillID int64) error {
	res, err := db.exec(ctx, "DELETE FROM learning_path_skills WHERE kind = ? AND learning_path_id = ? AND skill_id = ?",
		string(kind), learningPathID, skillID)
	if err != nil {
		return err
	}
	return affected(res)
}

func (db *DB) listPathSkills(ctx context.Context, kind types.SkillKind, learningPathID int64) ([]types.LearningPathSkill, error) {
	rows, err := db.query(ctx, `SELECT ps.id, ps.learning_path_id, ps.skill_id, ps.level, ps.created_at, ps.modified_at,
		s.display_name, s.created_at, s.modified_at
		FROM learning_path_skills ps JOIN skills s ON s.id = ps.skill_id
		WHERE ps.kind = ? AND ps.learning_path_id = ? ORDER BY s.display_name`,
		string(kind), learningPathID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.LearningPathSkill
	for rows.Next() {
		var ps types.LearningPathSkill
		var skill types.Skill
		var level sql.NullInt64
		var created, modified, sCreated, sModified int64
		if err := rows.Scan(&ps.ID, &ps.LearningPathID, &ps.SkillID, &level, &created, &modified,
			&skill.DisplayName, &sCreated, &sModified); err != nil {
			return nil, err
		}
		skill.ID = ps.SkillID
		skill.Created = fromTS(sCreated)
		skill.Modified = fromTS(sModified)
		ps.Skill = &skill
		ps.Level = ptrInt(level)
		ps.Created = fromTS(created)
		ps.Modified = fromTS(modified)
		out = append(out, ps)
	}
	return out, rows.Err()
}

// ListRequiredSkills returns the skills needed before taking a learning path
func (db *DB) ListRequiredSkills(ctx context.Context, learningPathID int64) ([]types.RequiredSkill, error) {
	skills, err := db.listPathSkills(ctx, types.SkillRequired, learningPathID)
	if err != nil {
		return nil, err
	}
	out := make([]types.RequiredSkill, len(skills))
	for i, s := range skills {
		out[i] = types.RequiredSkill{LearningPathSkill: s}
	}
	return out, nil
}

// ListAcquiredSkills returns the skills gained by completing a learning path
func (db *DB) ListAcquiredSkills(ctx context.Context, learningPathID int64) ([]types.AcquiredSkill, error) {
	skills, err := db.listPathSkills(ctx, types.SkillAcquired, learningPathID)
	if err != nil {
		return nil, err
	}
	out := make([]types.AcquiredSkill, len(skills))
	for i, s := range skills {
		out[i] = types.AcquiredSkill{LearningPathSkill: s}
	}
	return out, nil
}
