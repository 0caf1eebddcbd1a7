// Package mirror forwards messages of the General room to a Discord
// channel through an incoming webhook.
package mirror

import (
	"sync"

	"github.com/gtuk/discordwebhook"
	"github.com/rs/zerolog/log"
)

// Entry is one message to mirror.
type Entry struct {
	Author string
	Body   string
}

type sendFunc func(url string, msg discordwebhook.Message) error

// Discord posts entries from a single worker goroutine so a slow webhook
// never stalls the sender.
type Discord struct {
	url   string
	send  sendFunc
	queue chan Entry
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewDiscord starts the worker. An empty url returns nil; a nil *Discord
// accepts and drops everything.
func NewDiscord(url string) *Discord {
	if url == "" {
		return nil
	}
	return newDiscord(url, discordwebhook.SendMessage, 64)
}

func newDiscord(url string, send sendFunc, buffer int) *Discord {
	d := &Discord{url: url, send: send, queue: make(chan Entry, buffer), done: make(chan struct{})}
	go d.run()
	return d
}

func (d *Discord) run() {
	defer close(d.done)
	for e := range d.queue {
		author, body := e.Author, e.Body
		msg := discordwebhook.Message{
			Username: &author,
			Content:  &body,
		}
		if err := d.send(d.url, msg); err != nil {
			log.Warn().Err(err).Str("author", e.Author).Msg("discord mirror failed")
		}
	}
}

// Publish queues an entry, dropping it when the queue is full.
func (d *Discord) Publish(e Entry) bool {
	if d == nil || e.Body == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		log.Warn().Msg("discord mirror queue full, dropping message")
		return false
	}
}

// Close flushes queued entries and stops the worker.
func (d *Discord) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}
