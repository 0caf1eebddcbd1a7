package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"connect/server/internal/metrics"
	"connect/server/internal/mirror"
	"connect/server/internal/models"
	"connect/server/internal/repository"
	"connect/server/internal/room"
	"connect/server/internal/websocket"

	"github.com/rs/zerolog/log"
)

const (
	maxBodyLength   = 4000
	previewLength   = 100
	kindDirect      = "direct"
	kindGroup       = "group"
	defaultMessage  = models.MessageText
	mentionNotePart = "mentioned you in"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

type roomPayload struct {
	Room string `json:"room"`
}

// HistoryPayload is a page of decorated messages.
type HistoryPayload struct {
	Room     string               `json:"room"`
	Messages []models.MessageView `json:"messages"`
}

// RolePayload tells a client its role in the room it just joined.
type RolePayload struct {
	Room       string `json:"room"`
	Role       string `json:"role"`
	GlobalRole string `json:"globalRole"`
}

// WallpaperPayload carries the per-user wallpaper of a room.
type WallpaperPayload struct {
	Room string `json:"room"`
	URL  string `json:"url"`
}

// AckPayload confirms a pending message.
type AckPayload struct {
	TempID    string    `json:"tempId"`
	ID        int64     `json:"id"`
	Room      string    `json:"room"`
	CreatedAt time.Time `json:"created_at"`
}

// FailedPayload rejects a pending message.
type FailedPayload struct {
	TempID string `json:"tempId"`
	Room   string `json:"room"`
	Error  string `json:"error"`
}

// DeletedPayload announces a removed message.
type DeletedPayload struct {
	ID   int64  `json:"id"`
	Room string `json:"room"`
}

// decorate attaches display names and badges to messages.
func (s *Service) decorate(ctx context.Context, msgs []models.Message) ([]models.MessageView, error) {
	authors := make([]string, 0, len(msgs))
	for _, m := range msgs {
		authors = append(authors, m.Author)
	}
	names, err := s.store.DisplayNames(ctx, authors)
	if err != nil {
		return nil, err
	}
	badges, err := s.store.BadgesFor(ctx, authors)
	if err != nil {
		return nil, err
	}

	views := make([]models.MessageView, len(msgs))
	for i, m := range msgs {
		b := badges[m.Author]
		if b == nil {
			b = []models.Badge{}
		}
		name := names[m.Author]
		if name == "" {
			name = m.Author
		}
		views[i] = models.MessageView{Message: m, DisplayName: name, Badges: b}
	}
	return views, nil
}

func (s *Service) handleJoin(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p roomPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseRoom(p.Room)
	if err != nil {
		return err
	}

	ok, err := s.access(ctx, c, r, true)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("You do not have access to this chat")
	}

	s.hub.Subscribe(c, r.Name())

	msgs, err := s.store.RecentMessages(ctx, r.Name(), PageSize, 0)
	if err != nil {
		return err
	}
	views, err := s.decorate(ctx, msgs)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventChatHistory, HistoryPayload{Room: r.Name(), Messages: views})

	role, err := s.chatRole(ctx, r, c.Username)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventRoomRole, RolePayload{Room: r.Name(), Role: role, GlobalRole: c.Role()})

	if r.IsGroup() {
		gs, err := s.settings(ctx, r)
		if err != nil {
			return err
		}
		c.Emit(websocket.EventGroupSettings, gs)
	}

	url, err := s.store.GetWallpaper(ctx, c.Username, r.Name())
	if err != nil {
		return err
	}
	c.Emit(websocket.EventWallpaper, WallpaperPayload{Room: r.Name(), URL: url})

	if r.Includes(c.Username) {
		if err := s.store.ClearUnread(ctx, c.Username, r.Name()); err != nil {
			log.Warn().Err(err).Str("user", c.Username).Msg("clear unread")
		}
	}
	return nil
}

func (s *Service) handleLoadMore(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		Room   string `json:"room"`
		Offset int    `json:"offset"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseRoom(p.Room)
	if err != nil {
		return err
	}
	if p.Offset < 0 {
		return invalid("Invalid offset")
	}
	ok, err := s.access(ctx, c, r, false)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("You do not have access to this chat")
	}

	msgs, err := s.store.RecentMessages(ctx, r.Name(), PageSize, p.Offset)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		c.Emit(websocket.EventNoMore, roomPayload{Room: r.Name()})
		return nil
	}
	views, err := s.decorate(ctx, msgs)
	if err != nil {
		return err
	}
	c.Emit(websocket.EventMoreMessages, HistoryPayload{Room: r.Name(), Messages: views})
	return nil
}

type replyRef struct {
	ID int64 `json:"id"`
}

type sendPayload struct {
	Room    string    `json:"room"`
	Message string    `json:"message"`
	Type    string    `json:"type"`
	ReplyTo *replyRef `json:"replyTo"`
	TempID  string    `json:"tempId"`
}

func (s *Service) handleSend(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p sendPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	view, r, err := s.accept(ctx, c, p)
	if err != nil {
		reason := "Message was not delivered"
		var user *userError
		var slow *SlowModeError
		switch {
		case errors.As(err, &user):
			reason = user.msg
		case errors.As(err, &slow):
			reason = slow.Error()
		}
		c.Emit(websocket.EventMessageFailed, FailedPayload{TempID: p.TempID, Room: p.Room, Error: reason})
		return err
	}

	// stored before anyone hears about it
	s.hub.BroadcastToRoom(r.Name(), websocket.NewMessage(websocket.EventReceive, view), nil)
	c.Emit(websocket.EventMessageAck, AckPayload{TempID: p.TempID, ID: view.ID, Room: r.Name(), CreatedAt: view.CreatedAt})

	if r.IsDirect() {
		s.afterDirect(ctx, c, r, view.Message)
	}
	if r.IsGeneral() && s.mirror != nil {
		s.mirror.Publish(mirror.Entry{Author: c.Username, Body: view.Body})
	}
	s.notifyMentions(ctx, c.Username, r, view.Body)
	return nil
}

// accept validates and stores a message.
func (s *Service) accept(ctx context.Context, c *websocket.Client, p sendPayload) (models.MessageView, room.Room, error) {
	body := strings.TrimSpace(p.Message)
	if body == "" {
		return models.MessageView{}, room.Room{}, invalid("Message is empty")
	}
	if utf8.RuneCountInString(body) > maxBodyLength {
		return models.MessageView{}, room.Room{}, invalid("Message is too long")
	}
	kind := p.Type
	if kind == "" {
		kind = defaultMessage
	}
	if !models.ValidMessageType(kind) {
		return models.MessageView{}, room.Room{}, invalid("Unknown message type")
	}

	r, err := parseRoom(p.Room)
	if err != nil {
		return models.MessageView{}, r, err
	}

	var charged bool
	if r.IsDirect() {
		peer := r.Peer(c.Username)
		if peer == "" {
			return models.MessageView{}, r, forbidden("Only participants can write here")
		}
		blocked, err := s.store.IsBlocked(ctx, peer, c.Username)
		if err != nil {
			return models.MessageView{}, r, err
		}
		if blocked {
			return models.MessageView{}, r, forbidden("Blocked")
		}
	} else {
		ok, err := s.access(ctx, c, r, false)
		if err != nil {
			return models.MessageView{}, r, err
		}
		if !ok {
			return models.MessageView{}, r, forbidden("You are not a member of this group")
		}
		if charged, err = s.checkSlowMode(ctx, c, r); err != nil {
			return models.MessageView{}, r, err
		}
	}

	m := models.Message{Room: r.Name(), Author: c.Username, Body: body, Type: kind}
	if err := s.insert(ctx, &m, r, p.ReplyTo); err != nil {
		if charged {
			s.gate.Refund(r.Name(), c.Username)
		}
		return models.MessageView{}, r, err
	}
	kindLabel := kindGroup
	if r.IsDirect() {
		kindLabel = kindDirect
	}
	metrics.MessagesTotal.WithLabelValues(kindLabel).Inc()

	views, err := s.decorate(ctx, []models.Message{m})
	if err != nil {
		// the message is stored, fall back to an undecorated view
		log.Warn().Err(err).Int64("message", m.ID).Msg("decorate message")
		views = []models.MessageView{{Message: m, DisplayName: m.Author, Badges: []models.Badge{}}}
	}
	view := views[0]
	view.TempID = p.TempID
	return view, r, nil
}

// insert snapshots the replied-to message of the same room and stores m.
func (s *Service) insert(ctx context.Context, m *models.Message, r room.Room, reply *replyRef) error {
	if reply != nil && reply.ID > 0 {
		orig, err := s.store.GetMessage(ctx, reply.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case orig.Room == r.Name():
			id, author, text := orig.ID, orig.Author, orig.Body
			m.ReplyToID, m.ReplyToAuthor, m.ReplyToBody = &id, &author, &text
		}
	}
	return s.store.InsertMessage(ctx, m)
}

// checkSlowMode reports whether the send was charged against the gate.
func (s *Service) checkSlowMode(ctx context.Context, c *websocket.Client, r room.Room) (bool, error) {
	gs, err := s.settings(ctx, r)
	if err != nil {
		return false, err
	}
	if gs.SlowMode <= 0 {
		return false, nil
	}
	priv, err := s.privileged(ctx, c, r)
	if err != nil {
		return false, err
	}
	if priv {
		return false, nil
	}
	if wait, ok := s.gate.Allow(r.Name(), c.Username, time.Duration(gs.SlowMode)*time.Second); !ok {
		return false, &SlowModeError{Room: r.Name(), Wait: wait}
	}
	return true, nil
}

// afterDirect updates both chat previews and notifies the peer.
func (s *Service) afterDirect(ctx context.Context, c *websocket.Client, r room.Room, m models.Message) {
	peer := r.Peer(c.Username)
	preview := previewOf(m)

	if err := s.store.UpsertChatPreview(ctx, c.Username, r.Name(), m.Author, preview, false); err != nil {
		log.Error().Err(err).Str("user", c.Username).Msg("update sender preview")
	}
	if err := s.store.UpsertChatPreview(ctx, peer, r.Name(), m.Author, preview, true); err != nil {
		log.Error().Err(err).Str("user", peer).Msg("update recipient preview")
	}
	for _, u := range []string{c.Username, peer} {
		if target := s.hub.Lookup(u); target != nil {
			if previews, err := s.store.ListChatPreviews(ctx, u); err == nil {
				target.Emit(websocket.EventChatPreviews, previews)
			}
		}
	}

	// a peer looking at the conversation already got the message itself
	if target := s.hub.Lookup(peer); target != nil && s.hub.RoomOf(target) == r.Name() {
		return
	}
	content := fmt.Sprintf("%s: %s", c.Username, preview)
	if _, err := s.notifier.Notify(ctx, peer, models.NotificationDM, content, r.Name()); err != nil {
		log.Error().Err(err).Str("user", peer).Msg("dm notification")
	}
}

func previewOf(m models.Message) string {
	switch m.Type {
	case models.MessageImage, models.MessageGallery:
		return "[image]"
	case models.MessageAudio:
		return "[voice message]"
	case models.MessageVideo:
		return "[video]"
	}
	if utf8.RuneCountInString(m.Body) <= previewLength {
		return m.Body
	}
	return string([]rune(m.Body)[:previewLength]) + "…"
}

// Mentions returns the distinct handles mentioned in body, in order of
// first appearance.
func Mentions(body string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func (s *Service) notifyMentions(ctx context.Context, author string, r room.Room, body string) {
	for _, name := range Mentions(body) {
		if name == author {
			continue
		}
		ok, err := s.legitimateIn(ctx, name, r)
		if err != nil {
			log.Error().Err(err).Str("user", name).Msg("resolve mention")
			continue
		}
		if !ok {
			continue
		}
		content := fmt.Sprintf("%s %s %s", author, mentionNotePart, r.Name())
		if _, err := s.notifier.Notify(ctx, name, models.NotificationMention, content, r.Name()); err != nil {
			log.Error().Err(err).Str("user", name).Msg("mention notification")
		}
	}
}

// legitimateIn reports whether username is a real account that belongs in r.
func (s *Service) legitimateIn(ctx context.Context, username string, r room.Room) (bool, error) {
	exists, err := s.store.UserExists(ctx, username)
	if err != nil || !exists {
		return false, err
	}
	switch {
	case r.IsGeneral():
		return true, nil
	case r.IsDirect():
		return r.Includes(username), nil
	}
	m, err := s.membership(ctx, r, username)
	return m != nil, err
}

func (s *Service) handleDelete(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := decode(msg, &p); err != nil {
		return err
	}
	m, err := s.store.GetMessage(ctx, p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return invalid("Message not found")
	}
	if err != nil {
		return err
	}

	allowed := m.Author == c.Username || isMod(c)
	if !allowed {
		r, err := room.Parse(m.Room)
		if err == nil && r.IsGroup() {
			if allowed, err = s.privileged(ctx, c, r); err != nil {
				return err
			}
		}
	}
	if !allowed {
		return forbidden("You cannot delete this message")
	}

	if err := s.store.DeleteMessage(ctx, m.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.hub.BroadcastToRoom(m.Room, websocket.NewMessage(websocket.EventDeleted, DeletedPayload{ID: m.ID, Room: m.Room}), nil)
	if s.hub.RoomOf(c) != m.Room {
		c.Emit(websocket.EventDeleted, DeletedPayload{ID: m.ID, Room: m.Room})
	}
	return nil
}

func (s *Service) handleTyping(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p roomPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	// typing is best effort, malformed rooms are dropped silently
	r, err := room.Parse(p.Room)
	if err != nil || s.hub.RoomOf(c) != r.Name() {
		return nil
	}
	s.hub.BroadcastToRoom(r.Name(), websocket.NewMessage(websocket.EventDisplayTyping, websocket.TypingPayload{
		Username: c.Username,
		Room:     r.Name(),
	}), c)
	return nil
}

func (s *Service) handleSetWallpaper(ctx context.Context, c *websocket.Client, msg websocket.IncomingMessage) error {
	var p WallpaperPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	r, err := parseRoom(p.Room)
	if err != nil {
		return err
	}
	ok, err := s.access(ctx, c, r, false)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("You do not have access to this chat")
	}
	if err := s.store.SetWallpaper(ctx, c.Username, r.Name(), strings.TrimSpace(p.URL)); err != nil {
		return err
	}
	c.Emit(websocket.EventWallpaper, WallpaperPayload{Room: r.Name(), URL: strings.TrimSpace(p.URL)})
	return nil
}
