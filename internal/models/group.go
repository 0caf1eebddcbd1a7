package models

// Chat-local roles.
const (
	ChatRoleOwner  = "owner"
	ChatRoleEditor = "editor"
	ChatRoleMember = "member"
)

// GroupMember represents a user's membership in a group room
type GroupMember struct {
	ID       int64  `json:"id" db:"id"`
	Room     string `json:"room" db:"room"`
	Username string `json:"username" db:"username"`
	Role     string `json:"role" db:"role"`
}

// IsPrivileged reports whether the role may moderate the room
func (m *GroupMember) IsPrivileged() bool {
	return m.Role == ChatRoleOwner || m.Role == ChatRoleEditor
}

// MemberView includes profile information for rendering member lists
type MemberView struct {
	GroupMember
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// GroupSettings holds per-room visibility and slow-mode
type GroupSettings struct {
	Room      string `json:"room" db:"room"`
	IsPrivate bool   `json:"is_private" db:"is_private"`
	SlowMode  int    `json:"slow_mode" db:"slow_mode"` // seconds
	AvatarURL string `json:"avatar_url" db:"avatar_url"`
}

// DefaultGroupSettings are applied when a group has no settings row
func DefaultGroupSettings(room string) GroupSettings {
	return GroupSettings{Room: room}
}

// ValidChatRole checks a role name accepted by role assignment
func ValidChatRole(role string) bool {
	switch role {
	case ChatRoleOwner, ChatRoleEditor, ChatRoleMember:
		return true
	}
	return false
}
