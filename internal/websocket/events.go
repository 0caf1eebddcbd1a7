package websocket

import (
	"encoding/json"
	"time"
)

// EventType represents different WebSocket event types
type EventType string

// Client to server events
const (
	EventAuthenticate EventType = "authenticate"

	EventJoinRoom     EventType = "join_room"
	EventSendMessage  EventType = "send_message"
	EventLoadMore     EventType = "load_more_messages"
	EventDeleteMsg    EventType = "delete_message"
	EventTyping       EventType = "typing"
	EventSetWallpaper EventType = "set_wallpaper"

	EventCreateGroup         EventType = "create_group"
	EventJoinExistingGroup   EventType = "join_existing_group"
	EventLeaveGroup          EventType = "leave_group"
	EventAddGroupMember      EventType = "add_group_member"
	EventGetGroupInfo        EventType = "get_group_info"
	EventAssignChatRole      EventType = "assign_chat_role"
	EventUpdateGroupSettings EventType = "update_group_settings"
	EventSearchGroups        EventType = "search_groups"

	EventGetInitialData   EventType = "get_initial_data"
	EventSearchUsers      EventType = "search_users"
	EventGetMyProfile     EventType = "get_my_profile"
	EventGetUserProfile   EventType = "get_user_profile"
	EventUpdateProfile    EventType = "update_profile"
	EventGetAvatarHistory EventType = "get_avatar_history"
	EventDeleteAvatar     EventType = "delete_avatar"

	EventSendFriendRequest    EventType = "send_friend_request"
	EventAcceptFriendRequest  EventType = "accept_friend_request"
	EventDeclineFriendRequest EventType = "decline_friend_request"
	EventRemoveFriend         EventType = "remove_friend"
	EventBlockUser            EventType = "block_user"
	EventUnblockUser          EventType = "unblock_user"

	EventMarkNotificationRead EventType = "mark_notification_read"
	EventDeleteNotification   EventType = "delete_notification"
)

// Server to client events
const (
	EventChatHistory   EventType = "chat_history"
	EventMoreMessages  EventType = "more_messages_loaded"
	EventNoMore        EventType = "no_more_messages"
	EventReceive       EventType = "receive_message"
	EventMessageAck    EventType = "message_ack"
	EventMessageFailed EventType = "message_failed"
	EventDeleted       EventType = "message_deleted"
	EventRoomRole      EventType = "room_role"
	EventGroupSettings EventType = "group_settings"
	EventWallpaper     EventType = "chat_wallpaper"
	EventDisplayTyping EventType = "display_typing"

	EventGroupCreated     EventType = "group_created"
	EventGroupJoined      EventType = "group_joined"
	EventGroupDeleted     EventType = "group_deleted"
	EventGroupInfoUpdated EventType = "group_info_updated"
	EventGroupInfoData    EventType = "group_info_data"
	EventLeftGroup        EventType = "left_group_success"
	EventSearchGroupsRes  EventType = "search_groups_results"

	EventFriendRequestSent EventType = "friend_request_sent"

	EventFriendsList   EventType = "friends_list"
	EventUserGroups    EventType = "user_groups"
	EventTotalUsers    EventType = "total_users"
	EventSearchResults EventType = "search_results"
	EventMyProfile     EventType = "my_profile_data"
	EventUserProfile   EventType = "user_profile_data"
	EventAvatarHistory EventType = "avatar_history_data"
	EventChatPreviews  EventType = "chat_previews"

	EventNotificationHistory EventType = "notification_history"
	EventNewNotification     EventType = "new_notification"

	// Presence events
	EventUserOnline  EventType = "user_online"
	EventUserOffline EventType = "user_offline"

	EventForceLogout     EventType = "force_logout"
	EventSessionReplaced EventType = "session_replaced"

	// Error events
	EventError    EventType = "error_message"
	EventSlowMode EventType = "slow_mode"
)

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage stamps an outgoing event.
func NewMessage(t EventType, payload interface{}) WSMessage {
	return WSMessage{Type: t, Payload: payload, Timestamp: time.Now()}
}

// IncomingMessage represents messages received from clients
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (m IncomingMessage) Decode(v interface{}) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// TypingPayload represents typing indicator payload
type TypingPayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// PresencePayload represents user presence payload
type PresencePayload struct {
	Username string    `json:"username"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// ErrorPayload represents error event payload
type ErrorPayload struct {
	Msg string `json:"msg"`
}

// SlowModePayload tells a sender how long to wait.
type SlowModePayload struct {
	Room        string `json:"room"`
	WaitSeconds int    `json:"waitSeconds"`
	Msg         string `json:"msg"`
}
