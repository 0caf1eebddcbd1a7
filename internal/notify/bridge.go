// Package notify decides how a notification reaches its recipient: stored
// and delivered live when they are connected, stored and pushed to their
// browsers when they are not, dropped when they opted out.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"connect/server/internal/metrics"
	"connect/server/internal/models"
	"connect/server/internal/repository"
	"connect/server/internal/websocket"

	"github.com/rs/zerolog/log"
)

// Sessions delivers to a live connection and reports whether one existed.
type Sessions interface {
	SendToUser(username string, msg websocket.WSMessage) bool
}

// Pusher hands a payload to one push subscription and returns the status
// code answered by the push service.
type Pusher interface {
	Push(ctx context.Context, sub models.PushSubscription, payload []byte) (int, error)
}

// Store is the part of the repository the bridge needs.
type Store interface {
	NotificationsEnabled(ctx context.Context, username string) (bool, error)
	InsertNotification(ctx context.Context, n *models.Notification) error
	ListPushSubscriptions(ctx context.Context, username string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id int64) error
}

var _ Store = (repository.Store)(nil)

// Bridge routes notifications. A nil Pusher disables offline delivery.
type Bridge struct {
	store    Store
	sessions Sessions
	pusher   Pusher
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewBridge wires the bridge to its collaborators.
func NewBridge(store Store, sessions Sessions, pusher Pusher) *Bridge {
	return &Bridge{store: store, sessions: sessions, pusher: pusher, timeout: 10 * time.Second}
}

// PushPayload is the JSON body handed to the service worker.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
}

// Notify stores and delivers a notification. It returns nil, nil when the
// recipient disabled notifications.
func (b *Bridge) Notify(ctx context.Context, to, kind, content, data string) (*models.Notification, error) {
	enabled, err := b.store.NotificationsEnabled(ctx, to)
	if err != nil {
		return nil, err
	}
	if !enabled {
		metrics.NotificationsTotal.WithLabelValues(metrics.DeliverySuppressed).Inc()
		return nil, nil
	}

	n := &models.Notification{UserTo: to, Type: kind, Content: content, Data: data}
	if err := b.store.InsertNotification(ctx, n); err != nil {
		return nil, err
	}

	live := b.sessions.SendToUser(to, websocket.WSMessage{
		Type:      websocket.EventNewNotification,
		Payload:   n,
		Timestamp: time.Now(),
	})
	if live {
		metrics.NotificationsTotal.WithLabelValues(metrics.DeliveryLive).Inc()
		return n, nil
	}

	if b.pusher != nil {
		b.wg.Add(1)
		go func(n models.Notification) {
			defer b.wg.Done()
			b.push(n)
		}(*n)
	}
	return n, nil
}

func (b *Bridge) push(n models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	subs, err := b.store.ListPushSubscriptions(ctx, n.UserTo)
	if err != nil {
		log.Error().Err(err).Str("user", n.UserTo).Msg("list push subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(PushPayload{Title: titleFor(n.Type), Body: n.Content, Type: n.Type, Data: n.Data})
	if err != nil {
		log.Error().Err(err).Msg("marshal push payload")
		return
	}

	metrics.NotificationsTotal.WithLabelValues(metrics.DeliveryPush).Inc()
	for _, sub := range subs {
		status, err := b.pusher.Push(ctx, sub, payload)
		switch {
		case status == http.StatusNotFound || status == http.StatusGone:
			if err := b.store.DeletePushSubscription(ctx, sub.ID); err != nil {
				log.Error().Err(err).Int64("subscription", sub.ID).Msg("prune push subscription")
				continue
			}
			metrics.PushPrunedTotal.Inc()
			log.Info().Str("user", n.UserTo).Int64("subscription", sub.ID).Int("status", status).Msg("pruned expired push subscription")
		case err != nil:
			log.Warn().Err(err).Str("user", n.UserTo).Int64("subscription", sub.ID).Msg("push delivery failed")
		case status >= 400:
			log.Warn().Str("user", n.UserTo).Int64("subscription", sub.ID).Int("status", status).Msg("push service rejected notification")
		}
	}
}

// Wait blocks until in-flight push deliveries finish.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func titleFor(kind string) string {
	switch kind {
	case models.NotificationFriendRequest:
		return "New friend request"
	case models.NotificationMention:
		return "You were mentioned"
	case models.NotificationDM:
		return "New message"
	default:
		return "Connect"
	}
}
