package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connect/server/internal/models"
	"connect/server/internal/repository"
	"connect/server/internal/utils"
	"connect/server/internal/websocket"

	"github.com/rs/zerolog/log"
)

type userPayload struct {
	Username string `json:"username"`
}

type idPayload struct {
	ID int64 `json:"id"`
}

// UserProfile is a profile as seen by another user.
type UserProfile struct {
	models.Profile
	IsFriend  bool           `json:"isFriend"`
	IsBlocked bool           `json:"isBlocked"`
	IsOnline  bool           `json:"isOnline"`
	Badges    []models.Badge `json:"badges"`
}

func (s *Service) lists(ctx context.Context, username string) ([]models.Friend, []string, error) {
	friends, err := s.store.ListFriends(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	for i := range friends {
		friends[i].IsOnline = s.hub.IsOnline(friends[i].Username)
	}
	groups, err := s.store.UserGroups(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	return friends, groups, nil
}

// pushLists refreshes the friend and group lists of username if online.
func (s *Service) pushLists(ctx context.Context, username string) {
	c := s.hub.Lookup(username)
	if c == nil {
		return
	}
	friends, groups, err := s.lists(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("user", username).Msg("load lists")
		return
	}
	c.Emit(websocket.EventFriendsList, friends)
	c.Emit(websocket.EventUserGroups, groups)
}

func (s *Service) sendInitialData(ctx context.Context, c *websocket.Client) error {
	friends, groups, err := s.lists(ctx, c.Username)
	if err != nil {
		return err
	}
	total, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventFriendsList, friends)
	c.Emit(websocket.EventUserGroups, groups)
	c.Emit(websocket.EventTotalUsers, total)
	return nil
}

// broadcastPresence tells the online friends of username about a change.
func (s *Service) broadcastPresence(ctx context.Context, username string, online bool) {
	friends, err := s.store.ListFriends(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("user", username).Msg("load friends for presence")
		return
	}
	event := websocket.EventUserOffline
	if online {
		event = websocket.EventUserOnline
	}
	msg := websocket.NewMessage(event, websocket.PresencePayload{Username: username, IsOnline: online})
	for _, f := range friends {
		s.hub.SendToUser(f.Username, msg)
	}
}

func (s *Service) handleInitialData(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	return s.sendInitialData(ctx, c)
}

func (s *Service) handleSearchUsers(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		Query string `json:"query"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	q := strings.TrimSpace(p.Query)
	if q == "" {
		c.Emit(websocket.EventSearchResults, []models.UserSummary{})
		return nil
	}
	users, err := s.store.SearchUsers(ctx, q, SearchLimit)
	if err != nil {
		return err
	}
	for i := range users {
		users[i].IsOnline = s.hub.IsOnline(users[i].Username)
	}
	c.Emit(websocket.EventSearchResults, users)
	return nil
}

func (s *Service) handleGetMyProfile(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	p, err := s.store.GetOrCreateProfile(ctx, c.Username)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventMyProfile, p)
	return nil
}

func (s *Service) handleGetUserProfile(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p userPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	exists, err := s.store.UserExists(ctx, p.Username)
	if err != nil {
		return err
	}
	if !exists {
		return invalid("User not found")
	}

	profile, err := s.store.GetOrCreateProfile(ctx, p.Username)
	if err != nil {
		return err
	}
	out := UserProfile{Profile: *profile, IsOnline: s.hub.IsOnline(p.Username), Badges: []models.Badge{}}
	if out.IsFriend, err = s.store.AreFriends(ctx, c.Username, p.Username); err != nil {
		return err
	}
	if out.IsBlocked, err = s.store.IsBlocked(ctx, c.Username, p.Username); err != nil {
		return err
	}
	badges, err := s.store.BadgesFor(ctx, []string{p.Username})
	if err != nil {
		return err
	}
	if b := badges[p.Username]; b != nil {
		out.Badges = b
	}
	if p.Username != c.Username {
		out.Phone = ""
	}
	c.Emit(websocket.EventUserProfile, out)
	return nil
}

func (s *Service) handleUpdateProfile(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		NewUsername          string `json:"newUsername"`
		DisplayName          string `json:"display_name"`
		Bio                  string `json:"bio"`
		Phone                string `json:"phone"`
		NotificationsEnabled *bool  `json:"notifications_enabled"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}

	if name := strings.TrimSpace(p.NewUsername); name != "" && name != c.Username {
		return s.rename(ctx, c, name)
	}

	current, err := s.store.GetOrCreateProfile(ctx, c.Username)
	if err != nil {
		return err
	}
	upd := models.ProfileUpdate{
		DisplayName:          strings.TrimSpace(p.DisplayName),
		Bio:                  strings.TrimSpace(p.Bio),
		Phone:                strings.TrimSpace(p.Phone),
		NotificationsEnabled: current.NotificationsEnabled,
	}
	if p.NotificationsEnabled != nil {
		upd.NotificationsEnabled = *p.NotificationsEnabled
	}
	profile, err := s.store.UpdateProfile(ctx, c.Username, upd)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventMyProfile, profile)
	return nil
}

// rename moves the account to a new handle. The session is ended because
// its token still names the old handle.
func (s *Service) rename(ctx context.Context, c *websocket.Client, name string) error {
	if !utils.ValidUsername(name) {
		return invalid("Username may only contain latin letters and digits, at least 3 characters")
	}
	taken, err := s.store.UserExists(ctx, name)
	if err != nil {
		return err
	}
	if taken {
		return invalid("This username is already taken")
	}

	if err := s.store.RenameUser(ctx, c.Username, name); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return invalid("This username is already taken")
		}
		return fmt.Errorf("rename %s: %w", c.Username, err)
	}

	log.Info().Str("from", c.Username).Str("to", name).Msg("user renamed")
	c.Emit(websocket.EventForceLogout, websocket.ErrorPayload{Msg: "Your username was changed. Please sign in again."})
	c.Close()
	return nil
}

func (s *Service) handleAvatarHistory(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p userPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	if p.Username == "" {
		p.Username = c.Username
	}
	avatars, err := s.store.ListAvatars(ctx, p.Username)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventAvatarHistory, avatars)
	return nil
}

func (s *Service) handleDeleteAvatar(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		AvatarID int64 `json:"avatarId"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	profile, err := s.store.DeleteAvatar(ctx, c.Username, p.AvatarID)
	if errors.Is(err, repository.ErrNotFound) {
		return invalid("Avatar not found")
	}
	if err != nil {
		return err
	}
	avatars, err := s.store.ListAvatars(ctx, c.Username)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventMyProfile, profile)
	c.Emit(websocket.EventAvatarHistory, avatars)
	return nil
}

func (s *Service) handleSendFriendRequest(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p userPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	to := strings.TrimSpace(p.Username)
	if to == "" || to == c.Username {
		return invalid("Invalid user")
	}
	exists, err := s.store.UserExists(ctx, to)
	if err != nil {
		return err
	}
	if !exists {
		return invalid("User not found")
	}
	friends, err := s.store.AreFriends(ctx, c.Username, to)
	if err != nil {
		return err
	}
	if friends {
		return invalid("You are already friends")
	}
	blocked, err := s.store.IsBlocked(ctx, to, c.Username)
	if err != nil {
		return err
	}

	// blocked senders get the same answer as everybody else
	if !blocked {
		pending, err := s.store.HasPendingFriendRequest(ctx, to, c.Username)
		if err != nil {
			return err
		}
		if !pending {
			if _, err := s.notifier.Notify(ctx, to, models.NotificationFriendRequest, c.Username, c.Username); err != nil {
				return err
			}
		}
	}
	c.Emit(websocket.EventFriendRequestSent, userPayload{Username: to})
	return nil
}

func (s *Service) friendRequest(ctx context.Context, c *websocket.Client, id int64) (*models.Notification, error) {
	n, err := s.store.GetNotification(ctx, c.Username, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid("Friend request not found")
	}
	if err != nil {
		return nil, err
	}
	if n.Type != models.NotificationFriendRequest || n.Data == "" {
		return nil, invalid("Friend request not found")
	}
	return n, nil
}

func (s *Service) handleAcceptFriendRequest(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		NotifID int64 `json:"notifId"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	n, err := s.friendRequest(ctx, c, p.NotifID)
	if err != nil {
		return err
	}
	from := n.Data

	exists, err := s.store.UserExists(ctx, from)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.store.DeleteNotification(ctx, c.Username, n.ID); err != nil {
			log.Error().Err(err).Str("user", c.Username).Int64("notification", n.ID).Msg("drop stale friend request")
		}
		return invalid("User not found")
	}
	already, err := s.store.AreFriends(ctx, from, c.Username)
	if err != nil {
		return err
	}
	if !already {
		if err := s.store.AddFriendship(ctx, from, c.Username); err != nil {
			return err
		}
	}
	if err := s.store.DeleteNotification(ctx, c.Username, n.ID); err != nil {
		return err
	}

	s.pushLists(ctx, from)
	s.pushLists(ctx, c.Username)
	content := fmt.Sprintf("%s accepted your friend request", c.Username)
	if _, err := s.notifier.Notify(ctx, from, models.NotificationInfo, content, c.Username); err != nil {
		log.Error().Err(err).Str("user", from).Msg("friend accept notification")
	}
	return nil
}

func (s *Service) handleDeclineFriendRequest(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		NotifID int64 `json:"notifId"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	n, err := s.friendRequest(ctx, c, p.NotifID)
	if err != nil {
		return err
	}
	return s.store.DeleteNotification(ctx, c.Username, n.ID)
}

func (s *Service) handleRemoveFriend(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p userPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	if p.Username == "" {
		return invalid("Invalid user")
	}
	if err := s.store.RemoveFriendship(ctx, c.Username, p.Username); err != nil {
		return err
	}
	s.pushLists(ctx, c.Username)
	s.pushLists(ctx, p.Username)
	return nil
}

func (s *Service) handleBlockUser(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p userPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	if p.Username == "" || p.Username == c.Username {
		return invalid("Invalid user")
	}
	if err := s.store.BlockUser(ctx, c.Username, p.Username); err != nil {
		return err
	}
	s.pushLists(ctx, c.Username)
	s.pushLists(ctx, p.Username)
	return nil
}

func (s *Service) handleUnblockUser(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p userPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	if p.Username == "" {
		return invalid("Invalid user")
	}
	return s.store.UnblockUser(ctx, c.Username, p.Username)
}

func (s *Service) handleMarkNotificationRead(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p idPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	return s.store.MarkNotificationRead(ctx, c.Username, p.ID)
}

func (s *Service) handleDeleteNotification(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p idPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	return s.store.DeleteNotification(ctx, c.Username, p.ID)
}
