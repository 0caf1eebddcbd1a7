package models

import "time"

// Notification types.
const (
	NotificationFriendRequest = "friend_request"
	NotificationMention       = "mention"
	NotificationInfo          = "info"
	NotificationDM            = "dm"
)

// Friend is an entry of a user's friend list
type Friend struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsOnline    bool   `json:"isOnline"`
}

// Notification belongs to exactly one recipient
type Notification struct {
	ID        int64     `json:"id" db:"id"`
	UserTo    string    `json:"user_to" db:"user_to"`
	Type      string    `json:"type" db:"type"`
	Content   string    `json:"content" db:"content"`
	Data      string    `json:"data" db:"data"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Badge is a grantable SVG marker
type Badge struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	SVG  string `json:"svg" db:"svg"`
}

// PushSubscription is a browser-issued push endpoint
type PushSubscription struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"-" db:"username"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	P256dh    string    `json:"p256dh" db:"p256dh"`
	Auth      string    `json:"auth" db:"auth"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
