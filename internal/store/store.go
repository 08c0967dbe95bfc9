package store

import (
	"context"
	"time"

	"entornos-api-go/internal/models"
)

// UserStore handles user records.
type UserStore interface {
	CreateUser(ctx context.Context, u models.User, password string) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	// GetUserByLogin matches on correo or telefono, whichever is non-empty.
	GetUserByLogin(ctx context.Context, correo, telefono string) (models.User, error)
	UpdateUser2FA(ctx context.Context, id, secret string, enabled bool) error
}

// EntornoStore handles environment records.
type EntornoStore interface {
	CreateEntorno(ctx context.Context, e models.Entorno) (models.Entorno, error)
	GetEntorno(ctx context.Context, id string) (models.Entorno, error)
	// ListEntornos returns the user's environments, or all of them when
	// usuarioID is empty.
	ListEntornos(ctx context.Context, usuarioID string) ([]models.Entorno, error)
	UpdateEntorno(ctx context.Context, e models.Entorno) (models.Entorno, error)
	SetEntornoEstado(ctx context.Context, id string, estado bool) (models.Entorno, error)
	DeleteEntorno(ctx context.Context, id string) error
	EntornoOwner(ctx context.Context, id string) (string, error)
}

// SubscriptionStore handles push subscriptions. Endpoint is the natural key.
type SubscriptionStore interface {
	// UpsertSubscription inserts sub, or takes over the existing record with
	// the same endpoint (owner, keys, user agent, last used).
	UpsertSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error)
	GetSubscription(ctx context.Context, endpoint string) (models.PushSubscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]models.PushSubscription, error)
	ListSubscriptions(ctx context.Context) ([]models.PushSubscription, error)
	// DeleteSubscription is idempotent: a missing endpoint is not an error.
	DeleteSubscription(ctx context.Context, endpoint string) error
	// DeleteUserSubscription removes the endpoint only if userID owns it.
	DeleteUserSubscription(ctx context.Context, userID, endpoint string) error
	TouchSubscription(ctx context.Context, endpoint string, at time.Time) error
}

// Store is everything the HTTP layer persists.
type Store interface {
	UserStore
	EntornoStore
	SubscriptionStore
}
