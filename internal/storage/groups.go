package storage

import (
	"context"

	"github.com/learningpaths/learningpaths/pkg/types"
)

// CreateGroup creates a new user group
func (db *DB) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	id, err := db.insert(ctx, "INSERT INTO user_groups (name, created_at) VALUES (?, ?)", name, ts(now()))
	if err != nil {
		return nil, err
	}
	return db.GetGroup(ctx, id)
}

const groupSelect = `SELECT g.id, g.name,
	(SELECT COUNT(*) FROM user_group_members m WHERE m.group_id = g.id)
	FROM user_groups g`

// GetGroup retrieves a group with its member count
func (db *DB) GetGroup(ctx context.Context, id int64) (*types.Group, error) {
	var g types.Group
	err := db.queryRow(ctx, groupSelect+" WHERE g.id = ?", id).Scan(&g.ID, &g.Name, &g.Members)
	if err != nil {
		return nil, mapError(err)
	}
	return &g, nil
}

// ListGroups returns all groups ordered by name
func (db *DB) ListGroups(ctx context.Context) ([]types.Group, error) {
	rows, err := db.query(ctx, groupSelect+" ORDER BY g.name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []types.Group
	for rows.Next() {
		var g types.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Members); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteGroup deletes a group, its memberships and its assignments
func (db *DB) DeleteGroup(ctx context.Context, id int64) error {
	res, err := db.exec(ctx, "DELETE FROM user_groups WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affected(res)
}

// AddGroupMember adds a user to a group. It returns false if the user was
// already a member.
func (db *DB) AddGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var exists int
	err := db.queryRow(ctx,
		"SELECT COUNT(*) FROM user_group_members WHERE group_id = ? AND user_id = ?", groupID, userID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists > 0 {
		return false, nil
	}
	_, err = db.exec(ctx,
		"INSERT INTO user_group_members (group_id, user_id, created_at) VALUES (?, ?, ?)",
		groupID, userID, ts(now()),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveGroupMember removes a user from a group. It returns false if the user
// was not a member.
func (db *DB) RemoveGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	res, err := db.exec(ctx, "DELETE FROM user_group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListGroupMembers returns the members of a group ordered by user ID
func (db *DB) ListGroupMembers(ctx context.Context, groupID int64) ([]types.User, error) {
	rows, err := db.query(ctx, `SELECT u.id, u.username, u.email, u.is_staff, u.created_at
		FROM users u JOIN user_group_members m ON m.user_id = u.id
		WHERE m.group_id = ? ORDER BY u.id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListGroupMembersByGroups returns the distinct members of any of the groups
func (db *DB) ListGroupMembersByGroups(ctx context.Context, groupIDs []int64) ([]types.User, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := db.query(ctx, `SELECT DISTINCT u.id, u.username, u.email, u.is_staff, u.created_at
		FROM users u JOIN user_group_members m ON m.user_id = u.id
		WHERE m.group_id IN `+inClause(len(groupIDs))+` ORDER BY u.id`, int64Args(groupIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}
