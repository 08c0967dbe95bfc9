package models

import "time"

// PushSubscription is one registered browser/device endpoint. Endpoint is
// unique across all users.
type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"usuario"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"keys_p256dh"` // Mapped from keys.p256dh
	Auth      string    `json:"keys_auth"`   // Mapped from keys.auth
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
}
