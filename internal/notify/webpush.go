package notify

import (
	"context"

	"connect/server/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// WebPush delivers through the browser push services using VAPID keys.
type WebPush struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
}

// NewWebPush builds a pusher for the given VAPID key pair.
func NewWebPush(publicKey, privateKey, subscriber string) *WebPush {
	return &WebPush{publicKey: publicKey, privateKey: privateKey, subscriber: subscriber, ttl: 60 * 60 * 24}
}

func (w *WebPush) Push(ctx context.Context, sub models.PushSubscription, payload []byte) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.publicKey,
		VAPIDPrivateKey: w.privateKey,
		TTL:             w.ttl,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// GenerateVAPIDKeys returns a fresh (private, public) key pair.
func GenerateVAPIDKeys() (string, string, error) {
	return webpush.GenerateVAPIDKeys()
}
