package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connect/server/internal/models"
	"connect/server/internal/repository"
	"connect/server/internal/room"
	"connect/server/internal/websocket"

	"github.com/rs/zerolog/log"
)

const roleKick = "kick"

// GroupInfo is the answer to get_group_info and the body of
// group_info_updated.
type GroupInfo struct {
	Room     string               `json:"room"`
	Members  []models.MemberView  `json:"members"`
	MyRole   string               `json:"myRole,omitempty"`
	Settings models.GroupSettings `json:"settings"`
}

func (s *Service) groupInfo(ctx context.Context, r room.Room) (GroupInfo, error) {
	members, err := s.store.ListMembers(ctx, r.Name())
	if err != nil {
		return GroupInfo{}, err
	}
	gs, err := s.settings(ctx, r)
	if err != nil {
		return GroupInfo{}, err
	}
	return GroupInfo{Room: r.Name(), Members: members, Settings: gs}, nil
}

// announceMembers fans the current member list out to the room.
func (s *Service) announceMembers(ctx context.Context, r room.Room) {
	info, err := s.groupInfo(ctx, r)
	if err != nil {
		log.Error().Err(err).Str("room", r.Name()).Msg("load group info")
		return
	}
	s.hub.BroadcastToRoom(r.Name(), websocket.NewMessage(websocket.EventGroupInfoUpdated, info), nil)
}

func (s *Service) handleCreateGroup(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		Name string `json:"name"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	name := strings.TrimSpace(p.Name)
	if !room.ValidGroupName(name) || name == room.General {
		return invalid("Invalid group name")
	}

	exists, err := s.store.GroupExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return invalid("A group with this name already exists")
	}
	if err := s.store.CreateGroup(ctx, name, c.Username); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return invalid("A group with this name already exists")
		}
		return err
	}

	log.Info().Str("room", name).Str("owner", c.Username).Msg("group created")
	c.Emit(websocket.EventGroupCreated, roomPayload{Room: name})
	s.pushLists(ctx, c.Username)
	return nil
}

func (s *Service) handleJoinExistingGroup(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p roomPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseGroup(p.Room)
	if err != nil {
		return err
	}

	m, err := s.membership(ctx, r, c.Username)
	if err != nil {
		return err
	}
	if m == nil {
		if err := s.requireGroup(ctx, r); err != nil {
			return err
		}
		gs, err := s.settings(ctx, r)
		if err != nil {
			return err
		}
		if gs.IsPrivate && !isMod(c) {
			return forbidden("This group is private")
		}
		if _, err := s.store.AddMember(ctx, r.Name(), c.Username, models.ChatRoleMember); err != nil {
			return err
		}
	}

	c.Emit(websocket.EventGroupJoined, roomPayload{Room: r.Name()})
	s.pushLists(ctx, c.Username)
	if m == nil {
		s.announceMembers(ctx, r)
	}
	return nil
}

func (s *Service) handleLeaveGroup(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p roomPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseGroup(p.Room)
	if err != nil {
		return err
	}
	if r.IsGeneral() {
		return invalid("You cannot leave General")
	}

	m, err := s.membership(ctx, r, c.Username)
	if err != nil {
		return err
	}
	if m == nil {
		return invalid("You are not a member of this group")
	}

	if m.Role == models.ChatRoleOwner {
		sole, err := s.soleOwner(ctx, r, c.Username)
		if err != nil {
			return err
		}
		if sole {
			return s.deleteGroup(ctx, r)
		}
	}

	if err := s.store.RemoveMember(ctx, r.Name(), c.Username); err != nil {
		return err
	}
	if s.hub.RoomOf(c) == r.Name() {
		s.hub.Unsubscribe(c)
	}
	c.Emit(websocket.EventLeftGroup, roomPayload{Room: r.Name()})
	s.pushLists(ctx, c.Username)
	s.announceMembers(ctx, r)
	return nil
}

// soleOwner reports whether username is the only owner of r.
func (s *Service) soleOwner(ctx context.Context, r room.Room, username string) (bool, error) {
	members, err := s.store.ListMembers(ctx, r.Name())
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.Role == models.ChatRoleOwner && m.Username != username {
			return false, nil
		}
	}
	return true, nil
}

// deleteGroup drops the whole room and tells everyone who could see it.
func (s *Service) deleteGroup(ctx context.Context, r room.Room) error {
	members, err := s.store.ListMembers(ctx, r.Name())
	if err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, r.Name()); err != nil {
		return err
	}
	s.gate.Forget(r.Name())

	told := map[string]bool{}
	deleted := websocket.NewMessage(websocket.EventGroupDeleted, roomPayload{Room: r.Name()})
	for _, u := range s.hub.Subscribers(r.Name()) {
		told[u] = s.hub.SendToUser(u, deleted)
	}
	s.hub.EvictRoom(r.Name())

	for _, m := range members {
		if !told[m.Username] {
			s.hub.SendToUser(m.Username, deleted)
		}
		s.pushLists(ctx, m.Username)
	}
	log.Info().Str("room", r.Name()).Int("members", len(members)).Msg("group deleted")
	return nil
}

func (s *Service) handleAddGroupMember(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		Room     string `json:"room"`
		Username string `json:"username"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseGroup(p.Room)
	if err != nil {
		return err
	}
	ok, err := s.privileged(ctx, c, r)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("Only owners and editors can add members")
	}
	exists, err := s.store.UserExists(ctx, p.Username)
	if err != nil {
		return err
	}
	if !exists {
		return invalid("User not found")
	}

	added, err := s.store.AddMember(ctx, r.Name(), p.Username, models.ChatRoleMember)
	if err != nil {
		return err
	}
	if !added {
		return invalid("User is already a member")
	}

	s.pushLists(ctx, p.Username)
	s.announceMembers(ctx, r)
	content := fmt.Sprintf("%s added you to %s", c.Username, r.Name())
	if _, err := s.notifier.Notify(ctx, p.Username, models.NotificationInfo, content, r.Name()); err != nil {
		log.Error().Err(err).Str("user", p.Username).Msg("group add notification")
	}
	return nil
}

func (s *Service) handleGetGroupInfo(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p roomPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseGroup(p.Room)
	if err != nil {
		return err
	}
	ok, err := s.access(ctx, c, r, false)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("You do not have access to this group")
	}

	info, err := s.groupInfo(ctx, r)
	if err != nil {
		return err
	}
	if info.MyRole, err = s.chatRole(ctx, r, c.Username); err != nil {
		return err
	}
	c.Emit(websocket.EventGroupInfoData, info)
	return nil
}

func (s *Service) handleAssignChatRole(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		Room     string `json:"room"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseGroup(p.Room)
	if err != nil {
		return err
	}
	if p.Role != roleKick && !models.ValidChatRole(p.Role) {
		return invalid("Unknown role")
	}
	if p.Username == c.Username {
		return invalid("You cannot change your own role")
	}

	ok, err := s.isOwner(ctx, c, r)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("Only the group owner can assign roles")
	}
	target, err := s.membership(ctx, r, p.Username)
	if err != nil {
		return err
	}
	if target == nil {
		return invalid("User is not a member of this group")
	}

	affected := s.hub.Lookup(p.Username)
	if p.Role == roleKick {
		if err := s.store.RemoveMember(ctx, r.Name(), p.Username); err != nil {
			return err
		}
		if affected != nil && s.hub.RoomOf(affected) == r.Name() {
			s.hub.Unsubscribe(affected)
		}
		if affected != nil {
			affected.Emit(websocket.EventLeftGroup, roomPayload{Room: r.Name()})
		}
		s.pushLists(ctx, p.Username)
	} else {
		if err := s.store.SetMemberRole(ctx, r.Name(), p.Username, p.Role); err != nil {
			return err
		}
		if affected != nil && s.hub.RoomOf(affected) == r.Name() {
			affected.Emit(websocket.EventRoomRole, RolePayload{Room: r.Name(), Role: p.Role, GlobalRole: affected.Role()})
		}
	}

	log.Info().Str("room", r.Name()).Str("by", c.Username).Str("user", p.Username).Str("role", p.Role).Msg("chat role changed")
	s.announceMembers(ctx, r)
	if s.hub.RoomOf(c) != r.Name() {
		if info, err := s.groupInfo(ctx, r); err == nil {
			c.Emit(websocket.EventGroupInfoUpdated, info)
		}
	}
	return nil
}

func (s *Service) handleUpdateGroupSettings(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		Room      string  `json:"room"`
		IsPrivate *bool   `json:"is_private"`
		SlowMode  *int    `json:"slow_mode"`
		AvatarURL *string `json:"avatar_url"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseGroup(p.Room)
	if err != nil {
		return err
	}
	ok, err := s.isOwner(ctx, c, r)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("Only the group owner can change settings")
	}

	gs, err := s.settings(ctx, r)
	if err != nil {
		return err
	}
	if p.IsPrivate != nil {
		if r.IsGeneral() && *p.IsPrivate {
			return invalid("General cannot be private")
		}
		gs.IsPrivate = *p.IsPrivate
	}
	if p.SlowMode != nil {
		if *p.SlowMode < 0 || *p.SlowMode > MaxSlowMode {
			return invalid(fmt.Sprintf("Slow mode must be between 0 and %d seconds", MaxSlowMode))
		}
		gs.SlowMode = *p.SlowMode
	}
	if p.AvatarURL != nil {
		gs.AvatarURL = strings.TrimSpace(*p.AvatarURL)
	}
	if err := s.store.SaveGroupSettings(ctx, gs); err != nil {
		return err
	}

	s.hub.BroadcastToRoom(r.Name(), websocket.NewMessage(websocket.EventGroupSettings, gs), nil)
	if s.hub.RoomOf(c) != r.Name() {
		c.Emit(websocket.EventGroupSettings, gs)
	}
	return nil
}

func (s *Service) handleSearchGroups(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		Query string `json:"query"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	q := strings.TrimSpace(p.Query)
	if q == "" {
		c.Emit(websocket.EventSearchGroupsRes, []string{})
		return nil
	}
	groups, err := s.store.SearchGroups(ctx, q, SearchLimit)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventSearchGroupsRes, groups)
	return nil
}
