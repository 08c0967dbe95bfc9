package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/models"
)

// Setup2FAHandler generates a new TOTP secret and QR code for the caller. The
// secret is only stored once Enable2FAHandler confirms a code.
func (h *Handler) Setup2FAHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	enrollment, err := models.NewTOTPEnrollment(id.Email)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.Internal, "generate totp secret", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"secret":      enrollment.Secret,
		"qr_code":     enrollment.QRCode,
		"otpauth_url": enrollment.URL,
		"issuer":      models.TOTPIssuer,
		"account":     id.Email,
	})
}

// Enable2FAHandler verifies the TOTP code and enables 2FA
func (h *Handler) Enable2FAHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	var req struct {
		Secret string `json:"secret"`
		Codigo string `json:"codigo"`
	}
	if !bindJSON(c, &req) {
		return
	}
	req.Secret = strings.TrimSpace(req.Secret)
	if req.Secret == "" || strings.TrimSpace(req.Codigo) == "" {
		badRequest(c, "Secreto y código son requeridos")
		return
	}

	if !models.VerifyTOTPCode(req.Secret, req.Codigo, h.Now()) {
		respondError(c, apperr.New(apperr.Unauthenticated, "Código de verificación inválido"))
		return
	}

	if err := h.Store.UpdateUser2FA(c.Request.Context(), id.UserID, req.Secret, true); err != nil {
		respondError(c, err)
		return
	}

	log.Printf("2FA enabled for %s", id.Email)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "2FA activado correctamente"})
}

// Disable2FAHandler turns off the caller's second factor after checking a
// current code.
func (h *Handler) Disable2FAHandler(c *gin.Context) {
	id, _ := currentIdentity(c)

	var req struct {
		Codigo string `json:"codigo"`
	}
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.Store.GetUser(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !user.TOTPEnabled {
		badRequest(c, "2FA no está activado")
		return
	}
	if !models.VerifyTOTPCode(user.TOTPSecret, req.Codigo, h.Now()) {
		respondError(c, apperr.New(apperr.Unauthenticated, "Código de verificación inválido"))
		return
	}

	if err := h.Store.UpdateUser2FA(c.Request.Context(), user.ID, "", false); err != nil {
		respondError(c, err)
		return
	}

	log.Printf("2FA disabled for %s", user.Correo)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "2FA desactivado correctamente"})
}

// AdminDisable2FAHandler allows admins to disable 2FA for any user (account
// recovery).
func (h *Handler) AdminDisable2FAHandler(c *gin.Context) {
	userID := c.Param("userId")
	if err := h.Store.UpdateUser2FA(c.Request.Context(), userID, "", false); err != nil {
		respondError(c, err)
		return
	}

	log.Printf("2FA disabled by admin for user %s", userID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "2FA desactivado por el administrador"})
}
