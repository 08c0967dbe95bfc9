// Package push fans a notification out to a user's (or every) registered
// push endpoint and reconciles per-endpoint failures with the subscription
// store.
package push

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/metrics"
	"entornos-api-go/internal/models"
)

// Subscriptions is the part of the subscription store the dispatcher needs.
type Subscriptions interface {
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]models.PushSubscription, error)
	ListSubscriptions(ctx context.Context) ([]models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	TouchSubscription(ctx context.Context, endpoint string, at time.Time) error
}

// Users checks that a target user exists.
type Users interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

// EventPublisher receives one Event per dispatch.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Endpoint string `json:"endpoint"`
	Success  bool   `json:"success"`
	Removed  bool   `json:"removed,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Summary aggregates the outcomes of a dispatch.
type Summary struct {
	Total   int       `json:"total"`
	Success int       `json:"success"`
	Failed  int       `json:"failed"`
	Removed int       `json:"removed"`
	Results []Outcome `json:"results"`
}

// Event describes a finished dispatch for the admin event stream.
type Event struct {
	Kind    string    `json:"kind"` // "user" or "all"
	Target  string    `json:"target,omitempty"`
	Title   string    `json:"title"`
	Total   int       `json:"total"`
	Success int       `json:"success"`
	Failed  int       `json:"failed"`
	Removed int       `json:"removed"`
	At      time.Time `json:"at"`
}

const (
	DefaultWorkers     = 4
	DefaultSendTimeout = 10 * time.Second
	publishTimeout     = 2 * time.Second
)

// Dispatcher delivers payloads and prunes dead endpoints. It is safe for
// concurrent use.
type Dispatcher struct {
	subs        Subscriptions
	users       Users
	sender      Sender
	events      EventPublisher
	metrics     *metrics.Metrics
	workers     int
	sendTimeout time.Duration
	now         func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers bounds how many deliveries run at once within one dispatch.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithSendTimeout sets the deadline of a single delivery.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

func WithEvents(p EventPublisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(subs Subscriptions, users Users, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs:        subs,
		users:       users,
		sender:      sender,
		workers:     DefaultWorkers,
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchToOne sends p to every subscription owned by userID.
func (d *Dispatcher) DispatchToOne(ctx context.Context, userID string, p Payload) (Summary, error) {
	if err := p.Validate(); err != nil {
		return Summary{}, err
	}
	subs, err := d.subs.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return Summary{}, apperr.Wrap(apperr.Internal, "list subscriptions", err)
	}
	if len(subs) == 0 {
		return Summary{}, apperr.New(apperr.NotFound, "No hay suscripciones activas")
	}

	summary, err := d.fanOut(ctx, subs, p)
	if err != nil {
		return Summary{}, err
	}
	d.publish(ctx, "user", userID, p, summary)
	return summary, nil
}

// DispatchToAll sends p to every subscription in the store. Callers are
// expected to restrict this to administrators.
func (d *Dispatcher) DispatchToAll(ctx context.Context, p Payload) (Summary, error) {
	if err := p.Validate(); err != nil {
		return Summary{}, err
	}
	subs, err := d.subs.ListSubscriptions(ctx)
	if err != nil {
		return Summary{}, apperr.Wrap(apperr.Internal, "list subscriptions", err)
	}
	if len(subs) == 0 {
		return Summary{}, apperr.New(apperr.NotFound, "No hay suscripciones activas")
	}

	summary, err := d.fanOut(ctx, subs, p)
	if err != nil {
		return Summary{}, err
	}
	d.publish(ctx, "all", "", p, summary)
	return summary, nil
}

// DispatchToUser is DispatchToOne for an arbitrary target after checking the
// user exists.
func (d *Dispatcher) DispatchToUser(ctx context.Context, targetUserID string, p Payload) (Summary, error) {
	if err := p.Validate(); err != nil {
		return Summary{}, err
	}
	if _, err := d.users.GetUser(ctx, targetUserID); err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return Summary{}, apperr.New(apperr.NotFound, "Usuario no encontrado")
		}
		return Summary{}, apperr.Wrap(apperr.Internal, "get user", err)
	}

	summary, err := d.DispatchToOne(ctx, targetUserID, p)
	if apperr.Is(err, apperr.NotFound) {
		return Summary{}, apperr.New(apperr.NotFound, "No hay suscripciones activas para este usuario")
	}
	return summary, err
}

// fanOut delivers to every subscription with at most d.workers in flight.
// Each delivery writes only its own slot in the results slice.
func (d *Dispatcher) fanOut(ctx context.Context, subs []models.PushSubscription, p Payload) (Summary, error) {
	body, err := p.Encode()
	if err != nil {
		return Summary{}, apperr.Wrap(apperr.Internal, "encode payload", err)
	}

	// Deliveries outlive a disconnected caller; each is bounded by sendTimeout.
	base := context.WithoutCancel(ctx)

	results := make([]Outcome, len(subs))
	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = d.deliver(base, sub, body)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			summary.Success++
		} else {
			summary.Failed++
		}
		if r.Removed {
			summary.Removed++
		}
	}
	return summary, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub models.PushSubscription, body []byte) Outcome {
	out := Outcome{Endpoint: sub.Endpoint}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err := d.sender.Send(sendCtx, sub, body)
	cancel()

	if err == nil {
		out.Success = true
		d.metrics.PushDelivered(metrics.OutcomeSuccess)
		if err := d.subs.TouchSubscription(ctx, sub.Endpoint, d.now()); err != nil {
			log.Printf("Failed to update last used for %s: %v", sub.Endpoint, err)
		}
		return out
	}

	out.Error = err.Error()
	log.Printf("Failed to send push to %s: %v", sub.Endpoint, err)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Gone() {
		d.metrics.PushDelivered(metrics.OutcomeGone)
		log.Printf("Subscription expired or invalid, removing: %s", sub.Endpoint)
		if err := d.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to remove subscription %s: %v", sub.Endpoint, err)
		} else {
			out.Removed = true
		}
		return out
	}

	d.metrics.PushDelivered(metrics.OutcomeFailed)
	return out
}

func (d *Dispatcher) publish(ctx context.Context, kind, target string, p Payload, s Summary) {
	if d.events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := d.events.Publish(pubCtx, Event{
		Kind:    kind,
		Target:  target,
		Title:   p.Title,
		Total:   s.Total,
		Success: s.Success,
		Failed:  s.Failed,
		Removed: s.Removed,
		At:      d.now().UTC(),
	})
	if err != nil {
		log.Printf("Failed to publish push event: %v", err)
	}
}
