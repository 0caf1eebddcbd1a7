// Package chat is the room and fan-out dispatcher. It turns inbound
// websocket events into repository calls and broadcasts the results to the
// sessions subscribed to the affected room.
package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"connect/server/internal/metrics"
	"connect/server/internal/mirror"
	"connect/server/internal/models"
	"connect/server/internal/repository"
	"connect/server/internal/slowmode"
	"connect/server/internal/websocket"

	"github.com/rs/zerolog/log"
)

const (
	PageSize            = 30
	NotificationHistory = 50
	SearchLimit         = 20
	MaxSlowMode         = 3600

	eventTimeout = 10 * time.Second
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid request")
)

// userError carries a message that is safe to show to the sender.
type userError struct {
	kind error
	msg  string
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.kind }

func forbidden(msg string) error { return &userError{kind: ErrForbidden, msg: msg} }
func invalid(msg string) error   { return &userError{kind: ErrInvalid, msg: msg} }

// SlowModeError rejects a send that came before the room cooldown ended.
type SlowModeError struct {
	Room string
	Wait time.Duration
}

func (e *SlowModeError) Error() string {
	return fmt.Sprintf("slow mode: wait %d s", e.WaitSeconds())
}

// WaitSeconds rounds the remaining wait up to whole seconds.
func (e *SlowModeError) WaitSeconds() int {
	return int(math.Ceil(e.Wait.Seconds()))
}

// Notifier raises a notification for one recipient.
type Notifier interface {
	Notify(ctx context.Context, to, kind, content, data string) (*models.Notification, error)
}

// Mirror receives every accepted General message.
type Mirror interface {
	Publish(e mirror.Entry) bool
}

type handlerFunc func(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error

// Service implements websocket.Handler.
type Service struct {
	store    repository.Store
	hub      *websocket.Hub
	gate     *slowmode.Gate
	notifier Notifier
	mirror   Mirror

	handlers map[websocket.EventType]handlerFunc
}

var _ websocket.Handler = (*Service)(nil)

// NewService wires the dispatcher. mirror may be nil.
func NewService(store repository.Store, hub *websocket.Hub, gate *slowmode.Gate, notifier Notifier, m Mirror) *Service {
	s := &Service{store: store, hub: hub, gate: gate, notifier: notifier, mirror: m}
	s.handlers = map[websocket.EventType]handlerFunc{
		websocket.EventJoinRoom:     s.handleJoin,
		websocket.EventLoadMore:     s.handleLoadMore,
		websocket.EventSendMessage:  s.handleSend,
		websocket.EventDeleteMsg:    s.handleDelete,
		websocket.EventTyping:       s.handleTyping,
		websocket.EventSetWallpaper: s.handleSetWallpaper,

		websocket.EventCreateGroup:         s.handleCreateGroup,
		websocket.EventJoinExistingGroup:   s.handleJoinExistingGroup,
		websocket.EventLeaveGroup:          s.handleLeaveGroup,
		websocket.EventAddGroupMember:      s.handleAddGroupMember,
		websocket.EventGetGroupInfo:        s.handleGetGroupInfo,
		websocket.EventAssignChatRole:      s.handleAssignChatRole,
		websocket.EventUpdateGroupSettings: s.handleUpdateGroupSettings,
		websocket.EventSearchGroups:        s.handleSearchGroups,

		websocket.EventGetInitialData:   s.handleInitialData,
		websocket.EventSearchUsers:      s.handleSearchUsers,
		websocket.EventGetMyProfile:     s.handleGetMyProfile,
		websocket.EventGetUserProfile:   s.handleGetUserProfile,
		websocket.EventUpdateProfile:    s.handleUpdateProfile,
		websocket.EventGetAvatarHistory: s.handleAvatarHistory,
		websocket.EventDeleteAvatar:     s.handleDeleteAvatar,

		websocket.EventSendFriendRequest:    s.handleSendFriendRequest,
		websocket.EventAcceptFriendRequest:  s.handleAcceptFriendRequest,
		websocket.EventDeclineFriendRequest: s.handleDeclineFriendRequest,
		websocket.EventRemoveFriend:         s.handleRemoveFriend,
		websocket.EventBlockUser:            s.handleBlockUser,
		websocket.EventUnblockUser:          s.handleUnblockUser,

		websocket.EventMarkNotificationRead: s.handleMarkNotificationRead,
		websocket.EventDeleteNotification:   s.handleDeleteNotification,
	}
	return s
}

// Handle dispatches one inbound event.
func (s *Service) Handle(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) {
	h, ok := s.handlers[msg.Type]
	if !ok {
		log.Debug().Str("event", string(msg.Type)).Str("user", c.Username).Msg("unknown event")
		c.Error("Unknown event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	if err := h(ctx, c, msg); err != nil {
		s.fail(c, msg.Type, err)
	}
}

func (s *Service) fail(c *websocket.Client, event websocket.EventType, err error) {
	var slow *SlowModeError
	var user *userError
	switch {
	case errors.As(err, &slow):
		metrics.SlowModeRejectionsTotal.Inc()
		c.Emit(websocket.EventSlowMode, websocket.SlowModePayload{
			Room:        slow.Room,
			WaitSeconds: slow.WaitSeconds(),
			Msg:         fmt.Sprintf("Slow mode is on. Wait %d s before sending again.", slow.WaitSeconds()),
		})
	case errors.As(err, &user):
		c.Error(user.msg)
	default:
		log.Error().Err(err).Str("event", string(event)).Str("user", c.Username).Msg("event failed")
		c.Error("Something went wrong, please try again")
	}
}

func decode(msg websocket.IncomingMessage, v interface{}) error {
	if err := msg.Decode(v); err != nil {
		return invalid("Malformed payload")
	}
	return nil
}

// Connect registers the session and sends the initial state.
func (s *Service) Connect(ctx context.Context, c *websocket.Client) {
	s.hub.Register(c)

	if _, err := s.store.GetOrCreateProfile(ctx, c.Username); err != nil {
		log.Error().Err(err).Str("user", c.Username).Msg("ensure profile")
	}
	if err := s.sendInitialData(ctx, c); err != nil {
		s.fail(c, "connect", err)
	}
	if notes, err := s.store.RecentNotifications(ctx, c.Username, NotificationHistory); err != nil {
		log.Error().Err(err).Str("user", c.Username).Msg("load notification history")
	} else {
		c.Emit(websocket.EventNotificationHistory, notes)
	}
	if previews, err := s.store.ListChatPreviews(ctx, c.Username); err != nil {
		log.Error().Err(err).Str("user", c.Username).Msg("load chat previews")
	} else {
		c.Emit(websocket.EventChatPreviews, previews)
	}

	s.broadcastPresence(ctx, c.Username, true)
}

// Disconnect runs once the live session of a user ends.
func (s *Service) Disconnect(ctx context.Context, c *websocket.Client) {
	s.broadcastPresence(ctx, c.Username, false)
}

// Shutdown closes every session and stops background work.
func (s *Service) Shutdown() {
	s.hub.Shutdown()
	s.gate.Stop()
	if w, ok := s.notifier.(interface{ Wait() }); ok {
		w.Wait()
	}
	if cl, ok := s.mirror.(interface{ Close() }); ok {
		cl.Close()
	}
}

func isMod(c *websocket.Client) bool {
	return c.Role() == models.RoleMod
}
