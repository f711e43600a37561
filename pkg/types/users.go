package types

import "time"

// User is an account that can be enrolled in learning paths and courses
type User struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	IsStaff  bool      `json:"is_staff"`
	Created  time.Time `json:"created"`
}

// Staff reports whether u is a staff user. A nil user is not staff.
func (u *User) Staff() bool {
	return u != nil && u.IsStaff
}

func (u *User) String() string {
	if u == nil {
		return "unknown"
	}
	return u.Username
}
