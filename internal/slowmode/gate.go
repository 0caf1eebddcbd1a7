// Package slowmode keeps the per-room, per-user cooldown of rooms with
// slow mode enabled. State is process-local and lost on restart.
package slowmode

import (
	"sync"
	"time"
)

type key struct {
	room string
	user string
}

// stamp is the last accepted post and the one before it.
type stamp struct {
	at   time.Time
	prev time.Time
}

// Gate remembers when each user last had a message accepted in each room.
type Gate struct {
	mu   sync.Mutex
	last map[key]stamp
	now  func() time.Time

	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

// New returns a gate whose janitor drops entries older than ttl.
func New(ttl time.Duration) *Gate {
	return &Gate{
		last: make(map[key]stamp),
		now:  time.Now,
		ttl:  ttl,
		stop: make(chan struct{}),
	}
}

// NewWithClock is New with a custom time source.
func NewWithClock(ttl time.Duration, now func() time.Time) *Gate {
	g := New(ttl)
	g.now = now
	return g
}

// Allow checks a send against a cooldown. A rejected attempt returns the
// remaining wait and leaves the stored timestamp untouched; an accepted one
// records now. A cooldown of zero or less always passes and records nothing.
func (g *Gate) Allow(room, user string, cooldown time.Duration) (time.Duration, bool) {
	if cooldown <= 0 {
		return 0, true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	k := key{room, user}
	prev, ok := g.last[k]
	if ok {
		if elapsed := now.Sub(prev.at); elapsed < cooldown {
			return cooldown - elapsed, false
		}
	}
	g.last[k] = stamp{at: now, prev: prev.at}
	return 0, true
}

// Refund undoes the last accepted Allow for user in room, e.g. when the
// message could not be stored.
func (g *Gate) Refund(room, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key{room, user}
	st, ok := g.last[k]
	if !ok {
		return
	}
	if st.prev.IsZero() {
		delete(g.last, k)
		return
	}
	g.last[k] = stamp{at: st.prev}
}

// Forget drops every entry of room, e.g. once the room is deleted.
func (g *Gate) Forget(room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.last {
		if k.room == room {
			delete(g.last, k)
		}
	}
}

// Len is the number of tracked (room, user) pairs.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

func (g *Gate) sweep() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, st := range g.last {
		if now.Sub(st.at) > g.ttl {
			delete(g.last, k)
		}
	}
}

// Run prunes stale entries every interval until Stop is called.
func (g *Gate) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

// Stop ends the janitor. Safe to call more than once.
func (g *Gate) Stop() {
	g.once.Do(func() { close(g.stop) })
}
