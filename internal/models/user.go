package models

import "time"

// Global roles.
const (
	RoleMember = "member"
	RoleMod    = "mod"
)

// User represents an account
type User struct {
	ID         int64     `json:"id" db:"id"`
	Username   string    `json:"username" db:"username"`
	Password   string    `json:"-" db:"password_hash"` // Never expose in JSON
	GlobalRole string    `json:"global_role" db:"global_role"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// IsMod reports whether the account holds the global moderator role
func (u *User) IsMod() bool {
	return u.GlobalRole == RoleMod
}

// Profile is the public, user-editable part of an account
type Profile struct {
	Username             string `json:"username" db:"username"`
	DisplayName          string `json:"display_name" db:"display_name"`
	Bio                  string `json:"bio" db:"bio"`
	Phone                string `json:"phone" db:"phone"`
	AvatarURL            string `json:"avatar_url" db:"avatar_url"`
	NotificationsEnabled bool   `json:"notifications_enabled" db:"notifications_enabled"`
}

// DefaultProfile is what a user sees before ever editing their profile
func DefaultProfile(username string) Profile {
	return Profile{Username: username, DisplayName: username, NotificationsEnabled: true}
}

// ProfileUpdate carries the editable profile fields
type ProfileUpdate struct {
	DisplayName          string
	Bio                  string
	Phone                string
	NotificationsEnabled bool
}

// Avatar is one entry of a user's avatar history
type Avatar struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	AvatarURL string    `json:"avatar_url" db:"avatar_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UserSummary is a search/list row
type UserSummary struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	GlobalRole  string `json:"global_role,omitempty"`
	IsOnline    bool   `json:"isOnline"`
}
