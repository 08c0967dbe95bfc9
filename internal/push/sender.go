package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"

	"entornos-api-go/internal/models"
)

// Sender delivers an encrypted payload to one subscription. A push service
// that answers with a non-2xx status yields a *StatusError.
type Sender interface {
	Send(ctx context.Context, sub models.PushSubscription, payload []byte) error
}

// StatusError is a delivery rejected by the push service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service responded %d", e.Status)
	}
	return fmt.Sprintf("push service responded %d: %s", e.Status, e.Body)
}

// Gone reports whether the endpoint is permanently invalid and its
// subscription should be dropped.
func (e *StatusError) Gone() bool {
	return e.Status == http.StatusGone ||
		e.Status == http.StatusNotFound ||
		strings.Contains(strings.ToLower(e.Body), "expired")
}

// VAPIDKeys is the application server key pair.
type VAPIDKeys struct {
	Public  string
	Private string
}

// GenerateVAPIDKeys creates a new key pair.
func GenerateVAPIDKeys() (VAPIDKeys, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, err
	}
	return VAPIDKeys{Public: publicKey, Private: privateKey}, nil
}

// WebPushSender delivers through the Web Push protocol with VAPID.
type WebPushSender struct {
	keys       VAPIDKeys
	subscriber string
	ttl        int
	client     webpush.HTTPClient
}

// NewWebPushSender returns a sender signing with keys. subscriber is the
// contact (mailto: or https:) included in the VAPID claim. client may be nil.
func NewWebPushSender(keys VAPIDKeys, subscriber string, ttl int, client *http.Client) *WebPushSender {
	s := &WebPushSender{keys: keys, subscriber: subscriber, ttl: ttl}
	if client != nil {
		s.client = client
	}
	return s
}

func (s *WebPushSender) PublicKey() string {
	return s.keys.Public
}

func (s *WebPushSender) Send(ctx context.Context, sub models.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.keys.Public,
		VAPIDPrivateKey: s.keys.Private,
		TTL:             s.ttl,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
