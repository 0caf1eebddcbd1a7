package models

import "time"

// Message types.
const (
	MessageText    = "text"
	MessageImage   = "image"
	MessageGallery = "gallery"
	MessageAudio   = "audio"
	MessageVideo   = "video"
)

// Message represents a chat message. Reply fields are a snapshot taken at
// send time, not a live reference.
type Message struct {
	ID            int64     `json:"id" db:"id"`
	Room          string    `json:"room" db:"room"`
	Author        string    `json:"author" db:"author"`
	Body          string    `json:"message" db:"body"`
	Type          string    `json:"type" db:"type"`
	ReplyToID     *int64    `json:"reply_to_id" db:"reply_to_id"`
	ReplyToAuthor *string   `json:"reply_to_author" db:"reply_to_author"`
	ReplyToBody   *string   `json:"reply_to_message" db:"reply_to_body"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// MessageView is a message decorated for display
type MessageView struct {
	Message
	DisplayName string  `json:"display_name"`
	Badges      []Badge `json:"badges"`
	TempID      string  `json:"tempId,omitempty"`
}

// ValidMessageType checks the type tag of an outgoing message
func ValidMessageType(t string) bool {
	switch t {
	case MessageText, MessageImage, MessageGallery, MessageAudio, MessageVideo:
		return true
	}
	return false
}

// ChatPreview is the per-user summary of a DM conversation
type ChatPreview struct {
	Username   string    `json:"-" db:"username"`
	Room       string    `json:"room" db:"room"`
	LastAuthor string    `json:"last_author" db:"last_author"`
	LastBody   string    `json:"last_message" db:"last_body"`
	Unread     int       `json:"unread" db:"unread"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
