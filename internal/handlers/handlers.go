package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/auth"
	"entornos-api-go/internal/metrics"
	"entornos-api-go/internal/push"
	"entornos-api-go/internal/store"
)

// EventSource streams dispatch events for the admin feed.
type EventSource interface {
	Messages(ctx context.Context) (<-chan string, func() error, error)
}

type Handler struct {
	Store          store.Store
	Codec          *auth.Codec
	Resolver       *auth.Resolver
	Dispatcher     *push.Dispatcher
	VAPIDPublicKey string

	// Events is nil when Redis is not configured.
	Events  EventSource
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewHandler(s store.Store, codec *auth.Codec, dispatcher *push.Dispatcher, vapidPublicKey string) *Handler {
	return &Handler{
		Store:          s,
		Codec:          codec,
		Resolver:       auth.NewResolver(codec, s),
		Dispatcher:     dispatcher,
		VAPIDPublicKey: vapidPublicKey,
		Now:            time.Now,
	}
}

// respondError writes the uniform {"error": ...} body for err and aborts.
// Internal details are logged, never returned.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	body := gin.H{"error": apperr.Message(err)}
	var appErr *apperr.Error
	if kind == apperr.RateLimited && errors.As(err, &appErr) {
		seconds := retrySeconds(appErr.RetryAfter)
		c.Header("Retry-After", strconv.Itoa(seconds))
		body["retryAfter"] = seconds
	}
	c.AbortWithStatusJSON(kind.HTTPStatus(), body)
}

func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

func badRequest(c *gin.Context, message string) {
	respondError(c, apperr.New(apperr.InvalidInput, message))
}

// bindJSON decodes the body into dst, answering 400 (or 413 when the body
// guard tripped) on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": payloadTooLarge})
			return false
		}
		badRequest(c, "Datos de entrada inválidos")
		return false
	}
	return true
}

func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": h.Now().UTC().Format(time.RFC3339)})
}

// PushEventsHandler streams dispatch events as server-sent events.
func (h *Handler) PushEventsHandler(c *gin.Context) {
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Feed de eventos no disponible"})
		return
	}

	ctx := c.Request.Context()
	msgs, stop, err := h.Events.Messages(ctx)
	if err != nil {
		log.Printf("Failed to subscribe to push events: %v", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Feed de eventos no disponible"})
		return
	}
	defer stop()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "data: %s\n\n", "connected")
	w.Flush()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			w.Flush()
		case <-ctx.Done():
			return
		}
	}
}
