package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want int
	}{
		{Unauthenticated, http.StatusUnauthorized},
		{Malformed, http.StatusUnauthorized},
		{Expired, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{InvalidInput, http.StatusBadRequest},
		{RateLimited, http.StatusTooManyRequests},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.kind.HTTPStatus())
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	t.Parallel()

	base := New(NotFound, "Usuario no encontrado")
	wrapped := fmt.Errorf("lookup: %w", base)

	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, NotFound))
	assert.True(t, errors.Is(wrapped, New(NotFound, "")))
	assert.False(t, errors.Is(wrapped, New(Forbidden, "")))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, Internal))
}

func TestMessageHidesInternalDetail(t *testing.T) {
	t.Parallel()

	cause := errors.New("pq: connection refused")
	assert.Equal(t, "Error interno del servidor", Message(Wrap(Internal, "db down", cause)))
	assert.Equal(t, "Error interno del servidor", Message(cause))
	assert.Equal(t, "Token expirado", Message(New(Expired, "Token expirado")))
	assert.ErrorIs(t, Wrap(Internal, "db down", cause), cause)
}

func TestLimited(t *testing.T) {
	t.Parallel()

	err := Limited("Demasiadas solicitudes", 90*time.Second)
	assert.Equal(t, RateLimited, err.Kind)
	assert.Equal(t, 90*time.Second, err.RetryAfter)
}
