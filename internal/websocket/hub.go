package websocket

import (
	"encoding/json"
	"sort"
	"sync"

	"connect/server/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub is the session registry: one live client per username, each
// subscribed to at most one room at a time.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Client
	rooms    map[string]map[*Client]struct{}
	current  map[*Client]string
	closed   bool
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*Client),
		rooms:    make(map[string]map[*Client]struct{}),
		current:  make(map[*Client]string),
	}
}

// Register makes c the session of its username. A previous session for
// the same username is told it was replaced and closed; it is returned so
// the caller can log it. Registering on a shut down hub closes c.
func (h *Hub) Register(c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		c.Close()
		return nil
	}

	old := h.sessions[c.Username]
	if old == c {
		return nil
	}
	if old != nil {
		h.leaveLocked(old)
		old.Emit(EventSessionReplaced, ErrorPayload{Msg: "Signed in from another window"})
		old.Close()
	} else {
		metrics.WsSessions.Inc()
	}
	h.sessions[c.Username] = c

	log.Info().Str("user", c.Username).Bool("replaced", old != nil).Msg("client connected")
	return old
}

// Unregister removes c. It reports whether c was still the live session
// of its username; a superseded client leaves the registry untouched.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(c)
	c.Close()

	if h.sessions[c.Username] != c {
		return false
	}
	delete(h.sessions, c.Username)
	metrics.WsSessions.Dec()
	log.Info().Str("user", c.Username).Msg("client disconnected")
	return true
}

// Lookup returns the live client of username, or nil.
func (h *Hub) Lookup(username string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[username]
}

// IsOnline reports whether username has a live session.
func (h *Hub) IsOnline(username string) bool {
	return h.Lookup(username) != nil
}

// OnlineCount returns the number of live sessions.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// OnlineUsers lists usernames with a live session, sorted.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions))
	for u := range h.sessions {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Subscribe moves c into room, leaving whatever room it was in before.
func (h *Hub) Subscribe(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(c)
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.current[c] = room
}

// Unsubscribe removes c from its current room.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) {
	room, ok := h.current[c]
	if !ok {
		return
	}
	delete(h.current, c)
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomOf returns the room c is subscribed to, or "".
func (h *Hub) RoomOf(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current[c]
}

// Subscribers returns the usernames currently subscribed to room.
func (h *Hub) Subscribers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		out = append(out, c.Username)
	}
	sort.Strings(out)
	return out
}

// BroadcastToRoom sends msg to every subscriber of room except exclude and
// returns how many clients accepted it.
func (h *Hub) BroadcastToRoom(room string, msg WSMessage, exclude *Client) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("event", string(msg.Type)).Msg("marshal broadcast")
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(data) {
			delivered++
		}
	}
	return delivered
}

// SendToUser delivers msg to the live session of username.
func (h *Hub) SendToUser(username string, msg WSMessage) bool {
	c := h.Lookup(username)
	if c == nil {
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("event", string(msg.Type)).Msg("marshal direct message")
		return false
	}
	return c.enqueue(data)
}

// EvictRoom unsubscribes every client of room.
func (h *Hub) EvictRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		delete(h.current, c)
	}
	delete(h.rooms, room)
}

// Shutdown closes every session and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, c := range h.sessions {
		c.Close()
		metrics.WsSessions.Dec()
	}
	h.sessions = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]struct{})
	h.current = make(map[*Client]string)
	log.Info().Msg("websocket hub shut down")
}
