package chat

import (
	"context"
	"errors"

	"connect/server/internal/models"
	"connect/server/internal/repository"
	"connect/server/internal/room"
	"connect/server/internal/websocket"
)

const roleGuest = "guest"

func parseRoom(raw string) (room.Room, error) {
	r, err := room.Parse(raw)
	if err != nil {
		return room.Room{}, invalid("Invalid room")
	}
	return r, nil
}

func parseGroup(raw string) (room.Room, error) {
	r, err := parseRoom(raw)
	if err != nil {
		return r, err
	}
	if !r.IsGroup() {
		return room.Room{}, invalid("Not a group chat")
	}
	return r, nil
}

// membership returns nil without error when username is not a member.
func (s *Service) membership(ctx context.Context, r room.Room, username string) (*models.GroupMember, error) {
	if !r.IsGroup() {
		return nil, nil
	}
	m, err := s.store.GetMembership(ctx, r.Name(), username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (s *Service) settings(ctx context.Context, r room.Room) (models.GroupSettings, error) {
	gs, err := s.store.GetGroupSettings(ctx, r.Name())
	if errors.Is(err, repository.ErrNotFound) {
		return models.DefaultGroupSettings(r.Name()), nil
	}
	if err != nil {
		return models.GroupSettings{}, err
	}
	return *gs, nil
}

// requireGroup rejects group names nobody has created.
func (s *Service) requireGroup(ctx context.Context, r room.Room) error {
	if r.IsGeneral() {
		return nil
	}
	exists, err := s.store.GroupExists(ctx, r.Name())
	if err != nil {
		return err
	}
	if !exists {
		return invalid("Group not found")
	}
	return nil
}

// access reports whether c may read r. With enroll set, a non-member
// asking for an open group is added to it as member.
func (s *Service) access(ctx context.Context, c *websocket.Client, r room.Room, enroll bool) (bool, error) {
	if isMod(c) {
		return true, nil
	}
	switch {
	case r.IsDirect():
		return r.Includes(c.Username), nil
	case r.IsGeneral():
		return true, nil
	}

	m, err := s.membership(ctx, r, c.Username)
	if err != nil {
		return false, err
	}
	if m != nil {
		return true, nil
	}
	if err := s.requireGroup(ctx, r); err != nil {
		return false, err
	}

	gs, err := s.settings(ctx, r)
	if err != nil {
		return false, err
	}
	if gs.IsPrivate {
		return false, nil
	}
	if !enroll {
		return false, nil
	}
	added, err := s.store.AddMember(ctx, r.Name(), c.Username, models.ChatRoleMember)
	if err != nil {
		return false, err
	}
	if added {
		s.pushLists(ctx, c.Username)
	}
	return true, nil
}

// chatRole is the role of username inside r as shown to clients.
func (s *Service) chatRole(ctx context.Context, r room.Room, username string) (string, error) {
	if r.IsDirect() {
		if r.Includes(username) {
			return models.ChatRoleMember, nil
		}
		return roleGuest, nil
	}
	m, err := s.membership(ctx, r, username)
	if err != nil || m == nil {
		return roleGuest, err
	}
	return m.Role, nil
}

// privileged reports whether c moderates r: global mods everywhere, owners
// and editors in their groups.
func (s *Service) privileged(ctx context.Context, c *websocket.Client, r room.Room) (bool, error) {
	if isMod(c) {
		return true, nil
	}
	m, err := s.membership(ctx, r, c.Username)
	if err != nil || m == nil {
		return false, err
	}
	return m.IsPrivileged(), nil
}

// isOwner reports whether c may administer r.
func (s *Service) isOwner(ctx context.Context, c *websocket.Client, r room.Room) (bool, error) {
	if isMod(c) {
		return true, nil
	}
	m, err := s.membership(ctx, r, c.Username)
	if err != nil || m == nil {
		return false, err
	}
	return m.Role == models.ChatRoleOwner, nil
}
