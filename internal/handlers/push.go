package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"entornos-api-go/internal/models"
	"entornos-api-go/internal/push"
)

// GetVAPIDKeyHandler returns the public VAPID key
func (h *Handler) GetVAPIDKeyHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": h.VAPIDPublicKey})
}

type subscribeRequest struct {
	Subscription *struct {
		Endpoint string `json:"endpoint"`
		Keys     *struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
	UserAgent string `json:"userAgent"`
}

// SubscribePushHandler saves a push subscription for the caller. An endpoint
// already registered (by anyone) is taken over rather than duplicated.
func (h *Handler) SubscribePushHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	var req subscribeRequest
	if !bindJSON(c, &req) {
		return
	}
	s := req.Subscription
	if s == nil || strings.TrimSpace(s.Endpoint) == "" || s.Keys == nil || s.Keys.P256dh == "" || s.Keys.Auth == "" {
		badRequest(c, "Datos de suscripción inválidos")
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}

	sub, err := h.Store.UpsertSubscription(c.Request.Context(), models.PushSubscription{
		UserID:    id.UserID,
		Endpoint:  strings.TrimSpace(s.Endpoint),
		P256dh:    s.Keys.P256dh,
		Auth:      s.Keys.Auth,
		UserAgent: userAgent,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	log.Printf("Usuario %s suscrito a notificaciones push", id.Email)
	c.JSON(http.StatusOK, gin.H{"message": "Suscripción exitosa", "subscription": sub})
}

// UnsubscribePushHandler removes one of the caller's own endpoints.
func (h *Handler) UnsubscribePushHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		badRequest(c, "Endpoint requerido")
		return
	}

	if err := h.Store.DeleteUserSubscription(c.Request.Context(), id.UserID, strings.TrimSpace(req.Endpoint)); err != nil {
		respondError(c, err)
		return
	}

	log.Printf("Usuario %s desuscrito de notificaciones push", id.Email)
	c.JSON(http.StatusOK, gin.H{"message": "Desuscripción exitosa"})
}

// GetSubscriptionsHandler lists the caller's subscriptions.
func (h *Handler) GetSubscriptionsHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	subs, err := h.Store.ListSubscriptionsByUser(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// GetUserSubscriptionsHandler lists another user's subscriptions (admin).
func (h *Handler) GetUserSubscriptionsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("userId")

	if _, err := h.Store.GetUser(ctx, userID); err != nil {
		respondError(c, err)
		return
	}
	subs, err := h.Store.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// SendPushHandler notifies every device of the caller.
func (h *Handler) SendPushHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	var p push.Payload
	if !bindJSON(c, &p) {
		return
	}

	summary, err := h.Dispatcher.DispatchToOne(c.Request.Context(), id.UserID, p)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Printf("Notificación enviada a %d/%d dispositivos del usuario %s", summary.Success, summary.Total, id.Email)
	c.JSON(http.StatusOK, summaryResponse(summary))
}

// SendPushToAllHandler broadcasts to every subscription (admin).
func (h *Handler) SendPushToAllHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	var p push.Payload
	if !bindJSON(c, &p) {
		return
	}

	summary, err := h.Dispatcher.DispatchToAll(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Printf("Notificación masiva enviada por %s: %d exitosas, %d fallidas", id.Email, summary.Success, summary.Failed)
	c.JSON(http.StatusOK, summaryResponse(summary))
}

// SendPushToUserHandler notifies every device of the user in the path (admin).
func (h *Handler) SendPushToUserHandler(c *gin.Context) {
	id, _ := currentIdentity(c)
	target := c.Param("userId")

	var p push.Payload
	if !bindJSON(c, &p) {
		return
	}

	summary, err := h.Dispatcher.DispatchToUser(c.Request.Context(), target, p)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Printf("Notificación enviada a %d/%d suscripciones del usuario %s por administrador %s",
		summary.Success, summary.Total, target, id.Email)
	c.JSON(http.StatusOK, summaryResponse(summary))
}

func summaryResponse(s push.Summary) gin.H {
	return gin.H{
		"message": fmt.Sprintf("Notificación enviada a %d dispositivo(s)", s.Success),
		"total":   s.Total,
		"success": s.Success,
		"failed":  s.Failed,
		"removed": s.Removed,
		"results": s.Results,
	}
}
