package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/learningpaths/learningpaths/pkg/types"
)

const userColumns = "id, username, email, is_staff, created_at"

func scanUser(row interface{ Scan(...any) error }) (*types.User, error) {
	var u types.User
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.IsStaff, &created); err != nil {
		return nil, mapError(err)
	}
	u.Created = fromTS(created)
	return &u, nil
}

// CreateUser creates a new user
func (db *DB) CreateUser(ctx context.Context, username, email string, staff bool) (*types.User, error) {
	id, err := db.insert(ctx,
		"INSERT INTO users (username, email, is_staff, created_at) VALUES (?, ?, ?, ?)",
		username, strings.TrimSpace(email), staff, ts(now()),
	)
	if err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	return scanUser(db.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return scanUser(db.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// GetUserByEmail retrieves a user by email (case-insensitive)
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return scanUser(db.queryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE LOWER(email) = LOWER(?)", strings.TrimSpace(email)))
}

// ListUsers returns all users ordered by username
func (db *DB) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := db.query(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// GetUsersByEmails returns the users matching any of the emails
func (db *DB) GetUsersByEmails(ctx context.Context, emails []string) ([]types.User, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	args := make([]any, len(emails))
	for i, e := range emails {
		args[i] = strings.ToLower(strings.TrimSpace(e))
	}
	rows, err := db.query(ctx,
		"SELECT "+userColumns+" FROM users WHERE LOWER(email) IN "+inClause(len(args))+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]types.User, error) {
	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserStaff updates the staff flag
func (db *DB) SetUserStaff(ctx context.Context, id int64, staff bool) error {
	res, err := db.exec(ctx, "UPDATE users SET is_staff = ? WHERE id = ?", staff, id)
	if err != nil {
		return err
	}
	return affected(res)
}
