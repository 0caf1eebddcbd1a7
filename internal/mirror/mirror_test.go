package mirror

import (
	"errors"
	"sync"
	"testing"

	"github.com/gtuk/discordwebhook"
)

type recorder struct {
	mu   sync.Mutex
	got  []discordwebhook.Message
	fail bool
}

func (r *recorder) send(url string, msg discordwebhook.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	if r.fail {
		return errors.New("webhook down")
	}
	return nil
}

func TestDiscord_PublishAndClose(t *testing.T) {
	rec := &recorder{}
	d := newDiscord("https://discord.example/webhook", rec.send, 8)

	if !d.Publish(Entry{Author: "alice", Body: "hello"}) {
		t.Fatal("Publish() = false")
	}
	if d.Publish(Entry{Author: "alice", Body: ""}) {
		t.Error("Publish() accepted an empty body")
	}
	d.Close()
	d.Close()

	if len(rec.got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(rec.got))
	}
	if *rec.got[0].Username != "alice" || *rec.got[0].Content != "hello" {
		t.Errorf("message = %s: %s", *rec.got[0].Username, *rec.got[0].Content)
	}
	if d.Publish(Entry{Author: "alice", Body: "late"}) {
		t.Error("Publish() after Close = true")
	}
}

func TestDiscord_FailuresAreSwallowed(t *testing.T) {
	rec := &recorder{fail: true}
	d := newDiscord("https://discord.example/webhook", rec.send, 8)
	d.Publish(Entry{Author: "bob", Body: "one"})
	d.Publish(Entry{Author: "bob", Body: "two"})
	d.Close()
	if len(rec.got) != 2 {
		t.Errorf("attempts = %d, want 2", len(rec.got))
	}
}

func TestDiscord_Nil(t *testing.T) {
	var d *Discord
	if NewDiscord("") != nil {
		t.Error("NewDiscord(\"\") != nil")
	}
	if d.Publish(Entry{Author: "a", Body: "b"}) {
		t.Error("nil Publish() = true")
	}
	d.Close()
}
