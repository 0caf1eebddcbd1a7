// Package repository is the persistence layer: every SQL statement of the
// server lives behind Store. Postgres is the production implementation,
// Memory backs development runs without a database and the test suites.
package repository

import (
	"context"
	"errors"

	"connect/server/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// UserStore manages accounts and profiles.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	UserExists(ctx context.Context, username string) (bool, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error)
	SetGlobalRole(ctx context.Context, username, role string) error
	DeleteUser(ctx context.Context, username string) error
	// RenameUser rewrites every reference to oldName, DM room keys
	// included, or nothing at all.
	RenameUser(ctx context.Context, oldName, newName string) error

	GetOrCreateProfile(ctx context.Context, username string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, username string, upd models.ProfileUpdate) (*models.Profile, error)
	DisplayNames(ctx context.Context, usernames []string) (map[string]string, error)

	AddAvatar(ctx context.Context, username, url string) (*models.Profile, error)
	ListAvatars(ctx context.Context, username string) ([]models.Avatar, error)
	// DeleteAvatar removes one history entry and makes the newest remaining
	// avatar current.
	DeleteAvatar(ctx context.Context, username string, id int64) (*models.Profile, error)
}

// MessageStore manages room history.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	// RecentMessages returns up to limit messages skipping the newest
	// offset ones, in chronological order.
	RecentMessages(ctx context.Context, room string, limit, offset int) ([]models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error

	UpsertChatPreview(ctx context.Context, owner, room, author, body string, unread bool) error
	ClearUnread(ctx context.Context, owner, room string) error
	ListChatPreviews(ctx context.Context, owner string) ([]models.ChatPreview, error)

	GetWallpaper(ctx context.Context, username, room string) (string, error)
	SetWallpaper(ctx context.Context, username, room, url string) error
}

// GroupStore manages memberships and settings.
type GroupStore interface {
	GetMembership(ctx context.Context, room, username string) (*models.GroupMember, error)
	// AddMember returns false when the membership already existed.
	AddMember(ctx context.Context, room, username, role string) (bool, error)
	RemoveMember(ctx context.Context, room, username string) error
	SetMemberRole(ctx context.Context, room, username, role string) error
	ListMembers(ctx context.Context, room string) ([]models.MemberView, error)
	UserGroups(ctx context.Context, username string) ([]string, error)
	GroupExists(ctx context.Context, room string) (bool, error)
	SearchGroups(ctx context.Context, query string, limit int) ([]string, error)

	// CreateGroup inserts the owner membership and default settings.
	CreateGroup(ctx context.Context, room, owner string) error
	// DeleteGroup removes memberships, messages and settings of room.
	DeleteGroup(ctx context.Context, room string) error
	GetGroupSettings(ctx context.Context, room string) (*models.GroupSettings, error)
	SaveGroupSettings(ctx context.Context, s models.GroupSettings) error
}

// SocialStore manages friendships, blocks and notifications.
type SocialStore interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
	AddFriendship(ctx context.Context, a, b string) error
	RemoveFriendship(ctx context.Context, a, b string) error
	ListFriends(ctx context.Context, username string) ([]models.Friend, error)

	IsBlocked(ctx context.Context, blocker, blocked string) (bool, error)
	// BlockUser also ends any friendship between the two.
	BlockUser(ctx context.Context, blocker, blocked string) error
	UnblockUser(ctx context.Context, blocker, blocked string) error

	NotificationsEnabled(ctx context.Context, username string) (bool, error)
	InsertNotification(ctx context.Context, n *models.Notification) error
	RecentNotifications(ctx context.Context, username string, limit int) ([]models.Notification, error)
	GetNotification(ctx context.Context, username string, id int64) (*models.Notification, error)
	HasPendingFriendRequest(ctx context.Context, to, from string) (bool, error)
	MarkNotificationRead(ctx context.Context, username string, id int64) error
	DeleteNotification(ctx context.Context, username string, id int64) error
}

// BadgeStore manages badges and their grants.
type BadgeStore interface {
	CreateBadge(ctx context.Context, name, svg string) (*models.Badge, error)
	DeleteBadge(ctx context.Context, id int64) error
	ListBadges(ctx context.Context) ([]models.Badge, error)
	AssignBadge(ctx context.Context, username string, badgeID int64) error
	RevokeBadge(ctx context.Context, username string, badgeID int64) error
	BadgesFor(ctx context.Context, usernames []string) (map[string][]models.Badge, error)
}

// PushStore manages push subscriptions.
type PushStore interface {
	SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, username string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id int64) error
	DeletePushSubscriptionByEndpoint(ctx context.Context, username, endpoint string) error
}

// Store is the whole persistence surface.
type Store interface {
	UserStore
	MessageStore
	GroupStore
	SocialStore
	BadgeStore
	PushStore
	Close()
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
