package slowmode

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestGate() (*Gate, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	g := New(time.Hour)
	g.now = c.now
	return g, c
}

func TestGate_Allow(t *testing.T) {
	const cooldown = 10 * time.Second

	tests := []struct {
		name     string
		after    time.Duration
		wantOK   bool
		wantWait time.Duration
	}{
		{"immediately", 0, false, 10 * time.Second},
		{"before cooldown", 4 * time.Second, false, 6 * time.Second},
		{"just before", cooldown - time.Millisecond, false, time.Millisecond},
		{"exactly at cooldown", cooldown, true, 0},
		{"after cooldown", 25 * time.Second, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, c := newTestGate()
			start := c.t
			if _, ok := g.Allow("gophers", "alice", cooldown); !ok {
				t.Fatal("first send rejected")
			}

			c.t = start.Add(tt.after)
			wait, ok := g.Allow("gophers", "alice", cooldown)
			if ok != tt.wantOK || wait != tt.wantWait {
				t.Errorf("Allow() at +%v = (%v, %v), want (%v, %v)", tt.after, wait, ok, tt.wantWait, tt.wantOK)
			}
		})
	}
}

func TestGate_RejectionKeepsTimestamp(t *testing.T) {
	g, c := newTestGate()
	start := c.t
	g.Allow("gophers", "alice", 10*time.Second)

	// rejected attempts must not push the window forward
	for _, d := range []time.Duration{3, 6, 9} {
		c.t = start.Add(d * time.Second)
		if _, ok := g.Allow("gophers", "alice", 10*time.Second); ok {
			t.Fatalf("Allow() at +%ds accepted", d)
		}
	}
	c.t = start.Add(10 * time.Second)
	if _, ok := g.Allow("gophers", "alice", 10*time.Second); !ok {
		t.Error("Allow() at +10s rejected after earlier rejections")
	}
	c.t = start.Add(15 * time.Second)
	if wait, ok := g.Allow("gophers", "alice", 10*time.Second); ok || wait != 5*time.Second {
		t.Errorf("Allow() at +15s = (%v, %v), want (5s, false)", wait, ok)
	}
}

func TestGate_Isolation(t *testing.T) {
	g, _ := newTestGate()
	g.Allow("gophers", "alice", time.Minute)

	if _, ok := g.Allow("gophers", "bob", time.Minute); !ok {
		t.Error("other user in same room rejected")
	}
	if _, ok := g.Allow("rustaceans", "alice", time.Minute); !ok {
		t.Error("same user in other room rejected")
	}
	if _, ok := g.Allow("gophers", "alice", 0); !ok {
		t.Error("zero cooldown rejected")
	}
}

func TestGate_SweepAndForget(t *testing.T) {
	g, c := newTestGate()
	g.Allow("gophers", "alice", time.Second)
	g.Allow("gophers", "bob", time.Second)
	g.Allow("rustaceans", "alice", time.Second)

	g.Forget("rustaceans")
	if g.Len() != 2 {
		t.Fatalf("Len() after Forget = %d, want 2", g.Len())
	}

	c.t = c.t.Add(2 * time.Hour)
	g.sweep()
	if g.Len() != 0 {
		t.Errorf("Len() after sweep = %d, want 0", g.Len())
	}
}

func TestGate_StopTwice(t *testing.T) {
	g := New(time.Minute)
	done := make(chan struct{})
	go func() {
		g.Run(time.Millisecond)
		close(done)
	}()
	g.Stop()
	g.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}

func TestGate_Refund(t *testing.T) {
	const cooldown = 10 * time.Second
	g, c := newTestGate()

	if _, ok := g.Allow("r", "u", cooldown); !ok {
		t.Fatal("first Allow rejected")
	}
	g.Refund("r", "u")
	if _, ok := g.Allow("r", "u", cooldown); !ok {
		t.Fatal("Allow after refunding the only post was rejected")
	}

	c.t = c.t.Add(cooldown)
	if _, ok := g.Allow("r", "u", cooldown); !ok {
		t.Fatal("Allow after cooldown rejected")
	}
	g.Refund("r", "u")
	// the earlier accepted post still counts against a longer cooldown
	if wait, ok := g.Allow("r", "u", 2*cooldown); ok || wait != cooldown {
		t.Errorf("Allow after refund = (%v, %v), want (%v, false)", wait, ok, cooldown)
	}

	g.Refund("other", "u")
	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
}
