package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"connect/server/internal/models"
	"connect/server/internal/room"
)

type pair [2]string

// Memory is a process-local Store. It is used when no DATABASE_URL is
// configured and by tests; all data is lost on restart.
type Memory struct {
	mu  sync.RWMutex
	now func() time.Time
	seq int64

	users         map[string]*models.User
	profiles      map[string]*models.Profile
	avatars       []models.Avatar
	messages      []models.Message
	members       []models.GroupMember
	settings      map[string]models.GroupSettings
	friends       []pair
	blocks        map[pair]bool
	notifications []models.Notification
	badges        map[int64]models.Badge
	userBadges    map[string]map[int64]bool
	subs          []models.PushSubscription
	wallpapers    map[pair]string
	previews      map[pair]*models.ChatPreview
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		now:        time.Now,
		users:      make(map[string]*models.User),
		profiles:   make(map[string]*models.Profile),
		settings:   make(map[string]models.GroupSettings),
		blocks:     make(map[pair]bool),
		badges:     make(map[int64]models.Badge),
		userBadges: make(map[string]map[int64]bool),
		wallpapers: make(map[pair]string),
		previews:   make(map[pair]*models.ChatPreview),
	}
}

func (m *Memory) Close() {}

func (m *Memory) nextID() int64 {
	m.seq++
	return m.seq
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// users

func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; ok {
		return nil, ErrConflict
	}
	u := &models.User{ID: m.nextID(), Username: username, Password: passwordHash, GlobalRole: models.RoleMember, CreatedAt: m.now()}
	m.users[username] = u
	if _, ok := m.profiles[username]; !ok {
		p := models.DefaultProfile(username)
		m.profiles[username] = &p
	}
	m.addMemberLocked(room.General, username, models.ChatRoleMember)

	cp := *u
	return &cp, nil
}

func (m *Memory) GetUser(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) UserExists(ctx context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[username]
	return ok, nil
}

func (m *Memory) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.UserSummary{}
	for name, u := range m.users {
		p := m.profileLocked(name)
		if contains(name, query) || contains(p.DisplayName, query) {
			out = append(out, models.UserSummary{Username: name, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL, GlobalRole: u.GlobalRole})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SetGlobalRole(ctx context.Context, username, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		return ErrNotFound
	}
	u.GlobalRole = role
	return nil
}

func (m *Memory) DeleteUser(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; !ok {
		return ErrNotFound
	}
	delete(m.users, username)
	delete(m.profiles, username)
	delete(m.userBadges, username)

	m.messages = filter(m.messages, func(x models.Message) bool { return x.Author != username })
	m.members = filter(m.members, func(x models.GroupMember) bool { return x.Username != username })
	m.friends = filter(m.friends, func(x pair) bool { return x[0] != username && x[1] != username })
	m.avatars = filter(m.avatars, func(x models.Avatar) bool { return x.Username != username })
	m.notifications = filter(m.notifications, func(x models.Notification) bool { return x.UserTo != username })
	m.subs = filter(m.subs, func(x models.PushSubscription) bool { return x.Username != username })
	for k := range m.blocks {
		if k[0] == username || k[1] == username {
			delete(m.blocks, k)
		}
	}
	for k := range m.wallpapers {
		if k[0] == username {
			delete(m.wallpapers, k)
		}
	}
	for k := range m.previews {
		if k[0] == username {
			delete(m.previews, k)
		}
	}
	return nil
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := in[:0]
	for _, x := range in {
		if keep(x) {
			out = append(out, x)
		}
	}
	return out
}

func rekey(raw, oldName, newName string) string {
	r, err := room.Parse(raw)
	if err != nil || !r.IsDirect() {
		return raw
	}
	return r.Renamed(oldName, newName).Name()
}

func swap(v *string, oldName, newName string) {
	if *v == oldName {
		*v = newName
	}
}

// RenameUser is atomic because every table is rewritten under one lock.
func (m *Memory) RenameUser(ctx context.Context, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[oldName]
	if !ok {
		return ErrNotFound
	}
	if _, taken := m.users[newName]; taken {
		return ErrConflict
	}

	delete(m.users, oldName)
	u.Username = newName
	m.users[newName] = u

	if p, ok := m.profiles[oldName]; ok {
		delete(m.profiles, oldName)
		p.Username = newName
		m.profiles[newName] = p
	}
	if b, ok := m.userBadges[oldName]; ok {
		delete(m.userBadges, oldName)
		m.userBadges[newName] = b
	}
	for i := range m.messages {
		msg := &m.messages[i]
		swap(&msg.Author, oldName, newName)
		if msg.ReplyToAuthor != nil && *msg.ReplyToAuthor == oldName {
			n := newName
			msg.ReplyToAuthor = &n
		}
		msg.Room = rekey(msg.Room, oldName, newName)
	}
	for i := range m.friends {
		swap(&m.friends[i][0], oldName, newName)
		swap(&m.friends[i][1], oldName, newName)
	}
	for i := range m.members {
		swap(&m.members[i].Username, oldName, newName)
	}
	blocks := make(map[pair]bool, len(m.blocks))
	for k, v := range m.blocks {
		swap(&k[0], oldName, newName)
		swap(&k[1], oldName, newName)
		blocks[k] = v
	}
	m.blocks = blocks
	for i := range m.avatars {
		swap(&m.avatars[i].Username, oldName, newName)
	}
	for i := range m.notifications {
		n := &m.notifications[i]
		swap(&n.UserTo, oldName, newName)
		if n.Type == models.NotificationFriendRequest {
			swap(&n.Data, oldName, newName)
		} else {
			n.Data = rekey(n.Data, oldName, newName)
		}
	}
	for i := range m.subs {
		swap(&m.subs[i].Username, oldName, newName)
	}
	walls := make(map[pair]string, len(m.wallpapers))
	for k, v := range m.wallpapers {
		swap(&k[0], oldName, newName)
		k[1] = rekey(k[1], oldName, newName)
		walls[k] = v
	}
	m.wallpapers = walls
	previews := make(map[pair]*models.ChatPreview, len(m.previews))
	for k, v := range m.previews {
		swap(&k[0], oldName, newName)
		k[1] = rekey(k[1], oldName, newName)
		v.Username, v.Room = k[0], k[1]
		swap(&v.LastAuthor, oldName, newName)
		previews[k] = v
	}
	m.previews = previews
	return nil
}

func (m *Memory) profileLocked(username string) models.Profile {
	if p, ok := m.profiles[username]; ok {
		return *p
	}
	return models.DefaultProfile(username)
}

func (m *Memory) GetOrCreateProfile(ctx context.Context, username string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[username]
	if !ok {
		np := models.DefaultProfile(username)
		p = &np
		m.profiles[username] = p
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpdateProfile(ctx context.Context, username string, upd models.ProfileUpdate) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[username]
	if !ok {
		np := models.DefaultProfile(username)
		p = &np
		m.profiles[username] = p
	}
	p.DisplayName = upd.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = username
	}
	p.Bio = upd.Bio
	p.Phone = upd.Phone
	p.NotificationsEnabled = upd.NotificationsEnabled
	cp := *p
	return &cp, nil
}

func (m *Memory) DisplayNames(ctx context.Context, usernames []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(usernames))
	for _, u := range usernames {
		out[u] = m.profileLocked(u).DisplayName
	}
	return out, nil
}

func (m *Memory) AddAvatar(ctx context.Context, username, url string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.avatars = append(m.avatars, models.Avatar{ID: m.nextID(), Username: username, AvatarURL: url, CreatedAt: m.now()})
	p, ok := m.profiles[username]
	if !ok {
		np := models.DefaultProfile(username)
		p = &np
		m.profiles[username] = p
	}
	p.AvatarURL = url
	cp := *p
	return &cp, nil
}

func (m *Memory) ListAvatars(ctx context.Context, username string) ([]models.Avatar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Avatar{}
	for i := len(m.avatars) - 1; i >= 0; i-- {
		if m.avatars[i].Username == username {
			out = append(out, m.avatars[i])
		}
	}
	return out, nil
}

func (m *Memory) DeleteAvatar(ctx context.Context, username string, id int64) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.avatars)
	m.avatars = filter(m.avatars, func(a models.Avatar) bool { return !(a.ID == id && a.Username == username) })
	if len(m.avatars) == before {
		return nil, ErrNotFound
	}
	current := ""
	for i := len(m.avatars) - 1; i >= 0; i-- {
		if m.avatars[i].Username == username {
			current = m.avatars[i].AvatarURL
			break
		}
	}
	p, ok := m.profiles[username]
	if !ok {
		np := models.DefaultProfile(username)
		p = &np
		m.profiles[username] = p
	}
	p.AvatarURL = current
	cp := *p
	return &cp, nil
}

// messages

func (m *Memory) InsertMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = m.nextID()
	msg.CreatedAt = m.now()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *Memory) RecentMessages(ctx context.Context, roomName string, limit, offset int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var newestFirst []models.Message
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Room == roomName {
			newestFirst = append(newestFirst, m.messages[i])
		}
	}
	if offset >= len(newestFirst) {
		return []models.Message{}, nil
	}
	newestFirst = newestFirst[offset:]
	if len(newestFirst) > limit {
		newestFirst = newestFirst[:limit]
	}
	out := make([]models.Message, len(newestFirst))
	for i, msg := range newestFirst {
		out[len(out)-1-i] = msg
	}
	return out, nil
}

func (m *Memory) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages {
		if msg.ID == id {
			cp := msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteMessage(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.messages)
	m.messages = filter(m.messages, func(x models.Message) bool { return x.ID != id })
	if len(m.messages) == before {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) UpsertChatPreview(ctx context.Context, owner, roomName, author, body string, unread bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := pair{owner, roomName}
	p, ok := m.previews[k]
	if !ok {
		p = &models.ChatPreview{Username: owner, Room: roomName}
		m.previews[k] = p
	}
	p.LastAuthor = author
	p.LastBody = body
	p.UpdatedAt = m.now()
	if unread {
		p.Unread++
	}
	return nil
}

func (m *Memory) ClearUnread(ctx context.Context, owner, roomName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.previews[pair{owner, roomName}]; ok {
		p.Unread = 0
	}
	return nil
}

func (m *Memory) ListChatPreviews(ctx context.Context, owner string) ([]models.ChatPreview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.ChatPreview{}
	for k, p := range m.previews {
		if k[0] == owner {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) GetWallpaper(ctx context.Context, username, roomName string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wallpapers[pair{username, roomName}], nil
}

func (m *Memory) SetWallpaper(ctx context.Context, username, roomName, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if url == "" {
		delete(m.wallpapers, pair{username, roomName})
		return nil
	}
	m.wallpapers[pair{username, roomName}] = url
	return nil
}

// groups

func (m *Memory) findMemberLocked(roomName, username string) int {
	for i, gm := range m.members {
		if gm.Room == roomName && gm.Username == username {
			return i
		}
	}
	return -1
}

func (m *Memory) addMemberLocked(roomName, username, role string) bool {
	if m.findMemberLocked(roomName, username) >= 0 {
		return false
	}
	m.members = append(m.members, models.GroupMember{ID: m.nextID(), Room: roomName, Username: username, Role: role})
	return true
}

func (m *Memory) GetMembership(ctx context.Context, roomName, username string) (*models.GroupMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.findMemberLocked(roomName, username)
	if i < 0 {
		return nil, ErrNotFound
	}
	cp := m.members[i]
	return &cp, nil
}

func (m *Memory) AddMember(ctx context.Context, roomName, username, role string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addMemberLocked(roomName, username, role), nil
}

func (m *Memory) RemoveMember(ctx context.Context, roomName, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.members = filter(m.members, func(x models.GroupMember) bool { return !(x.Room == roomName && x.Username == username) })
	return nil
}

func (m *Memory) SetMemberRole(ctx context.Context, roomName, username, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.findMemberLocked(roomName, username)
	if i < 0 {
		return ErrNotFound
	}
	m.members[i].Role = role
	return nil
}

func (m *Memory) ListMembers(ctx context.Context, roomName string) ([]models.MemberView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.MemberView{}
	for _, gm := range m.members {
		if gm.Room == roomName {
			p := m.profileLocked(gm.Username)
			out = append(out, models.MemberView{GroupMember: gm, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL})
		}
	}
	return out, nil
}

func (m *Memory) UserGroups(ctx context.Context, username string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []string{}
	for _, gm := range m.members {
		if gm.Username == username {
			out = append(out, gm.Room)
		}
	}
	return out, nil
}

func (m *Memory) GroupExists(ctx context.Context, roomName string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.settings[roomName]; ok {
		return true, nil
	}
	for _, gm := range m.members {
		if gm.Room == roomName {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) SearchGroups(ctx context.Context, query string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	out := []string{}
	for _, gm := range m.members {
		if seen[gm.Room] || !contains(gm.Room, query) || m.settings[gm.Room].IsPrivate {
			continue
		}
		seen[gm.Room] = true
		out = append(out, gm.Room)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateGroup(ctx context.Context, roomName, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settings[roomName]; ok {
		return ErrConflict
	}
	m.settings[roomName] = models.DefaultGroupSettings(roomName)
	if i := m.findMemberLocked(roomName, owner); i >= 0 {
		m.members[i].Role = models.ChatRoleOwner
		return nil
	}
	m.addMemberLocked(roomName, owner, models.ChatRoleOwner)
	return nil
}

func (m *Memory) DeleteGroup(ctx context.Context, roomName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.members = filter(m.members, func(x models.GroupMember) bool { return x.Room != roomName })
	m.messages = filter(m.messages, func(x models.Message) bool { return x.Room != roomName })
	delete(m.settings, roomName)
	for k := range m.wallpapers {
		if k[1] == roomName {
			delete(m.wallpapers, k)
		}
	}
	return nil
}

func (m *Memory) GetGroupSettings(ctx context.Context, roomName string) (*models.GroupSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[roomName]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) SaveGroupSettings(ctx context.Context, s models.GroupSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.Room] = s
	return nil
}

// social

func (m *Memory) areFriendsLocked(a, b string) bool {
	for _, f := range m.friends {
		if (f[0] == a && f[1] == b) || (f[0] == b && f[1] == a) {
			return true
		}
	}
	return false
}

func (m *Memory) AreFriends(ctx context.Context, a, b string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.areFriendsLocked(a, b), nil
}

func (m *Memory) AddFriendship(ctx context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.areFriendsLocked(a, b) {
		m.friends = append(m.friends, pair{a, b})
	}
	return nil
}

func (m *Memory) RemoveFriendship(ctx context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeFriendshipLocked(a, b)
	return nil
}

func (m *Memory) removeFriendshipLocked(a, b string) {
	m.friends = filter(m.friends, func(f pair) bool {
		return !((f[0] == a && f[1] == b) || (f[0] == b && f[1] == a))
	})
}

func (m *Memory) ListFriends(ctx context.Context, username string) ([]models.Friend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Friend{}
	for _, f := range m.friends {
		other := ""
		switch username {
		case f[0]:
			other = f[1]
		case f[1]:
			other = f[0]
		default:
			continue
		}
		p := m.profileLocked(other)
		out = append(out, models.Friend{Username: other, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *Memory) IsBlocked(ctx context.Context, blocker, blocked string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocks[pair{blocker, blocked}], nil
}

func (m *Memory) BlockUser(ctx context.Context, blocker, blocked string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[pair{blocker, blocked}] = true
	m.removeFriendshipLocked(blocker, blocked)
	return nil
}

func (m *Memory) UnblockUser(ctx context.Context, blocker, blocked string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, pair{blocker, blocked})
	return nil
}

func (m *Memory) NotificationsEnabled(ctx context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profileLocked(username).NotificationsEnabled, nil
}

func (m *Memory) InsertNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n.ID = m.nextID()
	n.CreatedAt = m.now()
	n.IsRead = false
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *Memory) RecentNotifications(ctx context.Context, username string, limit int) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Notification{}
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notifications[i].UserTo == username {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *Memory) GetNotification(ctx context.Context, username string, id int64) (*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, n := range m.notifications {
		if n.ID == id && n.UserTo == username {
			cp := n
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) HasPendingFriendRequest(ctx context.Context, to, from string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, n := range m.notifications {
		if n.UserTo == to && n.Type == models.NotificationFriendRequest && n.Data == from {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) MarkNotificationRead(ctx context.Context, username string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserTo == username {
			m.notifications[i].IsRead = true
		}
	}
	return nil
}

func (m *Memory) DeleteNotification(ctx context.Context, username string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = filter(m.notifications, func(n models.Notification) bool { return !(n.ID == id && n.UserTo == username) })
	return nil
}

// badges

func (m *Memory) CreateBadge(ctx context.Context, name, svg string) (*models.Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.badges {
		if b.Name == name {
			return nil, ErrConflict
		}
	}
	b := models.Badge{ID: m.nextID(), Name: name, SVG: svg}
	m.badges[b.ID] = b
	return &b, nil
}

func (m *Memory) DeleteBadge(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.badges[id]; !ok {
		return ErrNotFound
	}
	delete(m.badges, id)
	for _, granted := range m.userBadges {
		delete(granted, id)
	}
	return nil
}

func (m *Memory) ListBadges(ctx context.Context) ([]models.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Badge, 0, len(m.badges))
	for _, b := range m.badges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AssignBadge(ctx context.Context, username string, badgeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.badges[badgeID]; !ok {
		return ErrNotFound
	}
	if m.userBadges[username] == nil {
		m.userBadges[username] = make(map[int64]bool)
	}
	m.userBadges[username][badgeID] = true
	return nil
}

func (m *Memory) RevokeBadge(ctx context.Context, username string, badgeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userBadges[username], badgeID)
	return nil
}

func (m *Memory) BadgesFor(ctx context.Context, usernames []string) (map[string][]models.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]models.Badge)
	for _, u := range dedupe(usernames) {
		for id := range m.userBadges[u] {
			out[u] = append(out[u], m.badges[id])
		}
		sort.Slice(out[u], func(i, j int) bool { return out[u][i].ID < out[u][j].ID })
	}
	return out, nil
}

// push

func (m *Memory) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.subs {
		if m.subs[i].Endpoint == sub.Endpoint {
			sub.ID = m.subs[i].ID
			sub.CreatedAt = m.subs[i].CreatedAt
			m.subs[i] = *sub
			return nil
		}
	}
	sub.ID = m.nextID()
	sub.CreatedAt = m.now()
	m.subs = append(m.subs, *sub)
	return nil
}

func (m *Memory) ListPushSubscriptions(ctx context.Context, username string) ([]models.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.PushSubscription{}
	for _, s := range m.subs {
		if s.Username == username {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) DeletePushSubscription(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = filter(m.subs, func(s models.PushSubscription) bool { return s.ID != id })
	return nil
}

func (m *Memory) DeletePushSubscriptionByEndpoint(ctx context.Context, username, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = filter(m.subs, func(s models.PushSubscription) bool { return !(s.Username == username && s.Endpoint == endpoint) })
	return nil
}
