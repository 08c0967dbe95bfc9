package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.RunMigrations(context.Background()))
	return s
}

func createUser(t *testing.T, s *SQLStore, correo string) models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), models.User{
		Nombre:   "Ana",
		Apellido: "Pérez",
		Correo:   correo,
	}, "secret1")
	require.NoError(t, err)
	return u
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open("mysql", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &SQLStore{driver: DriverPostgres}
	lite := &SQLStore{driver: DriverSQLite}
	q := `UPDATE t SET a = ?, b = ? WHERE id = ?`

	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE id = $3`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestUsers(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	u := createUser(t, s, "A@B.com")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "a@b.com", u.Correo)
	assert.Equal(t, models.RoleUsuario, u.Rol)
	assert.True(t, u.CheckPassword("secret1"))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Correo, got.Correo)
	assert.Empty(t, got.Telefono)

	byLogin, err := s.GetUserByLogin(ctx, "A@b.COM", "")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byLogin.ID)

	_, err = s.GetUserByLogin(ctx, "", "")
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	_, err = s.GetUserByLogin(ctx, "nobody@b.com", "")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = s.GetUser(ctx, "missing")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = s.CreateUser(ctx, models.User{Nombre: "X", Apellido: "Y", Correo: "a@b.com"}, "secret1")
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	// Two users without telefono do not collide on the unique index.
	other := createUser(t, s, "c@d.com")
	assert.NotEqual(t, u.ID, other.ID)

	require.NoError(t, s.UpdateUser2FA(ctx, u.ID, "SECRET", true))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.TOTPEnabled)
	assert.Equal(t, "SECRET", got.TOTPSecret)

	assert.Equal(t, apperr.NotFound, apperr.KindOf(s.UpdateUser2FA(ctx, "missing", "", false)))
}

func TestUserByTelefono(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, models.User{Nombre: "Luis", Apellido: "Gómez", Correo: "l@g.com", Telefono: "+5215512345678"}, "secret1")
	require.NoError(t, err)

	got, err := s.GetUserByLogin(ctx, "", "+5215512345678")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "+5215512345678", got.Telefono)
}

func TestUserByLoginPrefersCorreo(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	byPhone, err := s.CreateUser(ctx, models.User{Nombre: "Luis", Apellido: "Gómez", Correo: "luis@example.com", Telefono: "+5215511111111"}, "secret1")
	require.NoError(t, err)
	byMail, err := s.CreateUser(ctx, models.User{Nombre: "Ana", Apellido: "Pérez", Correo: "ana@example.com", Telefono: "+5215522222222"}, "secret1")
	require.NoError(t, err)

	got, err := s.GetUserByLogin(ctx, "ANA@example.com", byPhone.Telefono)
	require.NoError(t, err)
	assert.Equal(t, byMail.ID, got.ID)

	got, err = s.GetUserByLogin(ctx, "nadie@example.com", byPhone.Telefono)
	require.NoError(t, err)
	assert.Equal(t, byPhone.ID, got.ID)
}

func TestEntornos(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	owner := createUser(t, s, "owner@b.com")
	other := createUser(t, s, "other@b.com")

	e, err := s.CreateEntorno(ctx, models.Entorno{UsuarioID: owner.ID, Nombre: "Invernadero"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(e.Configuracion))

	_, err = s.CreateEntorno(ctx, models.Entorno{
		UsuarioID:     other.ID,
		Nombre:        "Sala",
		Configuracion: json.RawMessage(`{"temp":21}`),
	})
	require.NoError(t, err)

	ownerID, err := s.EntornoOwner(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, ownerID)

	_, err = s.EntornoOwner(ctx, "missing")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	mine, err := s.ListEntornos(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := s.ListEntornos(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	toggled, err := s.SetEntornoEstado(ctx, e.ID, true)
	require.NoError(t, err)
	assert.True(t, toggled.Estado)

	toggled.Nombre = "Invernadero norte"
	toggled.Configuracion = json.RawMessage(`{"riego":"06:00"}`)
	updated, err := s.UpdateEntorno(ctx, toggled)
	require.NoError(t, err)
	assert.Equal(t, "Invernadero norte", updated.Nombre)
	assert.JSONEq(t, `{"riego":"06:00"}`, string(updated.Configuracion))

	_, err = s.UpdateEntorno(ctx, models.Entorno{ID: "missing"})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	_, err = s.SetEntornoEstado(ctx, "missing", true)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	require.NoError(t, s.DeleteEntorno(ctx, e.ID))
	assert.Equal(t, apperr.NotFound, apperr.KindOf(s.DeleteEntorno(ctx, e.ID)))
	_, err = s.GetEntorno(ctx, e.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestSubscriptionEndpointIsUnique(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u1 := createUser(t, s, "u1@b.com")
	u2 := createUser(t, s, "u2@b.com")

	const endpoint = "https://push.example.com/send/abc"

	first, err := s.UpsertSubscription(ctx, models.PushSubscription{
		UserID: u1.ID, Endpoint: endpoint, P256dh: "k1", Auth: "a1", UserAgent: "firefox",
	})
	require.NoError(t, err)
	assert.Equal(t, u1.ID, first.UserID)

	for i := range 5 {
		sub, err := s.UpsertSubscription(ctx, models.PushSubscription{
			UserID: u2.ID, Endpoint: endpoint, P256dh: fmt.Sprintf("k%d", i+2), Auth: "a2",
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, sub.ID, "record is reused, not duplicated")
		assert.Equal(t, u2.ID, sub.UserID)
	}

	all, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "k6", all[0].P256dh)
	assert.Equal(t, "a2", all[0].Auth)

	mine, err := s.ListSubscriptionsByUser(ctx, u1.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestSubscriptionDeleteAndTouch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "u@b.com")

	const endpoint = "https://push.example.com/send/xyz"
	_, err := s.UpsertSubscription(ctx, models.PushSubscription{UserID: u.ID, Endpoint: endpoint, P256dh: "k", Auth: "a"})
	require.NoError(t, err)

	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchSubscription(ctx, endpoint, later))
	sub, err := s.GetSubscription(ctx, endpoint)
	require.NoError(t, err)
	assert.True(t, sub.LastUsed.Equal(later))

	assert.Equal(t, apperr.NotFound, apperr.KindOf(s.DeleteUserSubscription(ctx, "someone-else", endpoint)))
	require.NoError(t, s.DeleteUserSubscription(ctx, u.ID, endpoint))

	// Deleting an already-deleted endpoint is a no-op.
	assert.NoError(t, s.DeleteSubscription(ctx, endpoint))
	assert.NoError(t, s.DeleteSubscription(ctx, endpoint))

	_, err = s.GetSubscription(ctx, endpoint)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestConcurrentUpsertsKeepOneRecord(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "u@b.com")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertSubscription(ctx, models.PushSubscription{
				UserID: u.ID, Endpoint: "https://push.example.com/same", P256dh: fmt.Sprint(i), Auth: "a",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRedisEventsPublishFailsWithoutServer(t *testing.T) {
	t.Parallel()

	ev := NewRedisEvents(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer ev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Error(t, ev.Publish(ctx, map[string]int{"total": 1}))
	assert.Error(t, ev.Publish(ctx, make(chan int)))
}

func TestRedisEventsMessagesFailsWithoutServer(t *testing.T) {
	t.Parallel()

	ev := NewRedisEvents(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer ev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgs, stop, err := ev.Messages(ctx)
	assert.Error(t, err)
	assert.Nil(t, msgs)
	assert.Nil(t, stop)
}
