// Package room turns the wire-level room identifier into a typed value.
// A DM key is the two participant handles sorted and joined with "_";
// anything else is a group name.
package room

import (
	"errors"
	"strings"
)

// General is the lobby every account belongs to.
const General = "General"

const separator = "_"

var ErrInvalidRoom = errors.New("invalid room")

// Kind discriminates the two room shapes.
type Kind int

const (
	KindGroup Kind = iota
	KindDirect
)

// Room is either a direct conversation between two users or a named group.
type Room struct {
	kind  Kind
	name  string
	userA string
	userB string
}

// Direct builds the DM room for two users. Order of arguments is irrelevant.
func Direct(a, b string) Room {
	if b < a {
		a, b = b, a
	}
	return Room{kind: KindDirect, name: a + separator + b, userA: a, userB: b}
}

// Group builds a group room.
func Group(name string) Room {
	return Room{kind: KindGroup, name: name}
}

// Parse classifies a raw identifier. DM keys are canonicalised so that
// "bob_alice" and "alice_bob" address the same stream.
func Parse(raw string) (Room, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Room{}, ErrInvalidRoom
	}
	if !strings.Contains(raw, separator) {
		return Group(raw), nil
	}
	parts := strings.Split(raw, separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return Room{}, ErrInvalidRoom
	}
	return Direct(parts[0], parts[1]), nil
}

func (r Room) Kind() Kind     { return r.kind }
func (r Room) Name() string   { return r.name }
func (r Room) String() string { return r.name }
func (r Room) IsDirect() bool { return r.kind == KindDirect }
func (r Room) IsGroup() bool  { return r.kind == KindGroup && r.name != "" }

// IsGeneral reports whether r is the lobby.
func (r Room) IsGeneral() bool { return r.kind == KindGroup && r.name == General }

// Participants returns both halves of a DM key.
func (r Room) Participants() (string, string) { return r.userA, r.userB }

// Includes reports whether username is one of the DM participants.
func (r Room) Includes(username string) bool {
	return r.kind == KindDirect && (r.userA == username || r.userB == username)
}

// Peer returns the other participant of a DM, or "" when username is not
// part of it.
func (r Room) Peer(username string) string {
	switch {
	case r.kind != KindDirect:
		return ""
	case r.userA == username:
		return r.userB
	case r.userB == username:
		return r.userA
	}
	return ""
}

// Renamed returns the DM room with oldName replaced by newName. Group rooms
// and DMs not involving oldName are returned unchanged.
func (r Room) Renamed(oldName, newName string) Room {
	if !r.Includes(oldName) {
		return r
	}
	return Direct(newName, r.Peer(oldName))
}

// ValidGroupName checks a name for a new group: non-empty, no DM separator,
// at most 64 bytes.
func ValidGroupName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && len(name) <= 64 && !strings.Contains(name, separator)
}
