package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/metrics"
	"entornos-api-go/internal/models"
)

type memSubs struct {
	mu      sync.Mutex
	subs    map[string]models.PushSubscription
	touched map[string]time.Time
	deletes int
}

func newMemSubs(subs ...models.PushSubscription) *memSubs {
	m := &memSubs{subs: map[string]models.PushSubscription{}, touched: map[string]time.Time{}}
	for _, s := range subs {
		m.subs[s.Endpoint] = s
	}
	return m
}

func (m *memSubs) sorted(filter func(models.PushSubscription) bool) []models.PushSubscription {
	out := []models.PushSubscription{}
	for _, s := range m.subs {
		if filter(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func (m *memSubs) ListSubscriptionsByUser(_ context.Context, userID string) ([]models.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(s models.PushSubscription) bool { return s.UserID == userID }), nil
}

func (m *memSubs) ListSubscriptions(_ context.Context) ([]models.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(models.PushSubscription) bool { return true }), nil
}

func (m *memSubs) DeleteSubscription(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.subs, endpoint)
	return nil
}

func (m *memSubs) TouchSubscription(_ context.Context, endpoint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[endpoint] = at
	return nil
}

func (m *memSubs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type memUsers map[string]models.User

func (u memUsers) GetUser(_ context.Context, id string) (models.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return models.User{}, apperr.New(apperr.NotFound, "user not found")
}

// scriptedSender answers per endpoint; endpoints not in the script succeed.
type scriptedSender struct {
	mu       sync.Mutex
	script   map[string]error
	block    map[string]bool
	payloads [][]byte

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (s *scriptedSender) Send(ctx context.Context, sub models.PushSubscription, payload []byte) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	err := s.script[sub.Endpoint]
	blocked := s.block[sub.Endpoint]
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func sub(user, endpoint string) models.PushSubscription {
	return models.PushSubscription{UserID: user, Endpoint: endpoint, P256dh: "k", Auth: "a"}
}

var testPayload = Payload{Title: "Riego", Body: "El riego inició"}

func TestDispatchToOneNoSubscriptions(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newMemSubs(), memUsers{}, &scriptedSender{})
	_, err := d.DispatchToOne(context.Background(), "u1", testPayload)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestDispatchRequiresTitleAndBody(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newMemSubs(sub("u1", "https://e/1")), memUsers{}, &scriptedSender{})
	for _, p := range []Payload{{Title: "x"}, {Body: "y"}, {Title: " ", Body: "y"}} {
		_, err := d.DispatchToOne(context.Background(), "u1", p)
		assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
		_, err = d.DispatchToAll(context.Background(), p)
		assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
	}
}

func TestDispatchPrunesGoneEndpoint(t *testing.T) {
	t.Parallel()

	subs := newMemSubs(
		sub("u1", "https://e/1"),
		sub("u1", "https://e/2"),
		sub("u1", "https://e/3"),
		sub("u2", "https://e/other"),
	)
	sender := &scriptedSender{script: map[string]error{
		"https://e/2": &StatusError{Status: http.StatusGone},
	}}
	reg := prometheus.NewRegistry()
	d := NewDispatcher(subs, memUsers{}, sender, WithMetrics(metrics.New(reg)))

	summary, err := d.DispatchToOne(context.Background(), "u1", testPayload)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, 1, subs.deletes)
	assert.Equal(t, 3, subs.count())

	require.Len(t, summary.Results, 3)
	for _, r := range summary.Results {
		if r.Endpoint == "https://e/2" {
			assert.False(t, r.Success)
			assert.True(t, r.Removed)
			assert.Contains(t, r.Error, "410")
		} else {
			assert.True(t, r.Success)
			assert.Contains(t, subs.touched, r.Endpoint)
		}
	}
}

func TestDispatchKeepsTransientFailures(t *testing.T) {
	t.Parallel()

	subs := newMemSubs(sub("u1", "https://e/1"), sub("u1", "https://e/2"), sub("u1", "https://e/3"))
	sender := &scriptedSender{script: map[string]error{
		"https://e/1": &StatusError{Status: http.StatusNotFound},
		"https://e/2": &StatusError{Status: http.StatusTooManyRequests},
		"https://e/3": errors.New("dial tcp: connection refused"),
	}}
	d := NewDispatcher(subs, memUsers{}, sender)

	summary, err := d.DispatchToOne(context.Background(), "u1", testPayload)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 0, summary.Success)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, 2, subs.count())
	assert.Empty(t, subs.touched)
}

func TestDispatchToAllCoversEveryOwner(t *testing.T) {
	t.Parallel()

	subs := newMemSubs(sub("u1", "https://e/1"), sub("u2", "https://e/2"), sub("u3", "https://e/3"))
	pub := &recordingPublisher{}
	d := NewDispatcher(subs, memUsers{}, &scriptedSender{}, WithEvents(pub))

	summary, err := d.DispatchToAll(context.Background(), testPayload)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Success)

	require.Len(t, pub.events, 1)
	ev := pub.events[0].(Event)
	assert.Equal(t, "all", ev.Kind)
	assert.Equal(t, 3, ev.Total)
	assert.Equal(t, "Riego", ev.Title)

	_, err = NewDispatcher(newMemSubs(), memUsers{}, &scriptedSender{}).DispatchToAll(context.Background(), testPayload)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestDispatchToUser(t *testing.T) {
	t.Parallel()

	subs := newMemSubs(sub("u1", "https://e/1"))
	users := memUsers{"u1": {ID: "u1"}, "u2": {ID: "u2"}}
	pub := &recordingPublisher{err: errors.New("redis down")}
	d := NewDispatcher(subs, users, &scriptedSender{}, WithEvents(pub))
	ctx := context.Background()

	_, err := d.DispatchToUser(ctx, "ghost", testPayload)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	assert.Equal(t, "Usuario no encontrado", apperr.Message(err))

	_, err = d.DispatchToUser(ctx, "u2", testPayload)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	assert.Equal(t, "No hay suscripciones activas para este usuario", apperr.Message(err))

	summary, err := d.DispatchToUser(ctx, "u1", testPayload)
	require.NoError(t, err, "publish failures do not fail the dispatch")
	assert.Equal(t, 1, summary.Success)
	ev := pub.events[0].(Event)
	assert.Equal(t, "u1", ev.Target)
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var all []models.PushSubscription
	for _, e := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		all = append(all, sub("u1", "https://e/"+e))
	}
	sender := &scriptedSender{delay: 20 * time.Millisecond}
	d := NewDispatcher(newMemSubs(all...), memUsers{}, sender, WithWorkers(3))

	summary, err := d.DispatchToOne(context.Background(), "u1", testPayload)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Success)
	assert.LessOrEqual(t, sender.maxInFlight.Load(), int32(3))
	assert.Greater(t, sender.maxInFlight.Load(), int32(1))
}

func TestSlowEndpointTimesOutWithoutBlockingOthers(t *testing.T) {
	t.Parallel()

	subs := newMemSubs(sub("u1", "https://e/slow"), sub("u1", "https://e/fast"))
	sender := &scriptedSender{block: map[string]bool{"https://e/slow": true}}
	d := NewDispatcher(subs, memUsers{}, sender, WithWorkers(1), WithSendTimeout(50*time.Millisecond))

	start := time.Now()
	summary, err := d.DispatchToOne(context.Background(), "u1", testPayload)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, subs.count(), "timeouts are transient")
}

func TestCallerCancellationDoesNotAbortDeliveries(t *testing.T) {
	t.Parallel()

	subs := newMemSubs(sub("u1", "https://e/1"), sub("u1", "https://e/2"))
	d := NewDispatcher(subs, memUsers{}, &scriptedSender{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := d.DispatchToOne(ctx, "u1", testPayload)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Success)
}

func TestPayloadEncodingAppliesDefaults(t *testing.T) {
	t.Parallel()

	subs := newMemSubs(sub("u1", "https://e/1"))
	sender := &scriptedSender{}
	d := NewDispatcher(subs, memUsers{}, sender)

	_, err := d.DispatchToOne(context.Background(), "u1", testPayload)
	require.NoError(t, err)

	require.Len(t, sender.payloads, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(sender.payloads[0], &got))
	assert.Equal(t, "Riego", got["title"])
	assert.Equal(t, DefaultIcon, got["icon"])
	assert.Equal(t, DefaultURL, got["url"])
	assert.Equal(t, map[string]any{}, got["data"])
}

func TestStatusErrorGone(t *testing.T) {
	t.Parallel()

	assert.True(t, (&StatusError{Status: 410}).Gone())
	assert.True(t, (&StatusError{Status: 404}).Gone())
	assert.True(t, (&StatusError{Status: 400, Body: "Subscription Expired"}).Gone())
	assert.False(t, (&StatusError{Status: 500}).Gone())
	assert.False(t, (&StatusError{Status: 413, Body: "payload too large"}).Gone())
}
