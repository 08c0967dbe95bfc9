package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/auth"
	"entornos-api-go/internal/models"
)

type loginRequest struct {
	Correo     string `json:"correo"`
	Telefono   string `json:"telefono"`
	Contrasena string `json:"contrasena"`
	// Recordar is any so a non-boolean value degrades to false instead of
	// failing the decode.
	Recordar any    `json:"recordar"`
	Codigo   string `json:"codigo"`
}

func (r *loginRequest) normalize() {
	r.Correo = sanitize(r.Correo)
	r.Telefono = sanitize(r.Telefono)
	r.Contrasena = sanitize(r.Contrasena)
}

func (r *loginRequest) validate() error {
	switch {
	case !validPassword(r.Contrasena):
		return apperr.New(apperr.InvalidInput, "La contraseña es requerida y debe tener entre 6 y 128 caracteres")
	case r.Correo == "" && r.Telefono == "":
		return apperr.New(apperr.InvalidInput, "Debes proporcionar correo o teléfono")
	case r.Correo != "" && !validEmail(r.Correo):
		return apperr.New(apperr.InvalidInput, "Formato de correo electrónico inválido")
	case r.Telefono != "" && !validPhone(r.Telefono):
		return apperr.New(apperr.InvalidInput, "Formato de teléfono inválido")
	}
	return nil
}

func (r *loginRequest) remember() bool {
	b, ok := r.Recordar.(bool)
	return ok && b
}

// LoginHandler checks credentials (and the second factor when enabled) and
// issues a session token whose lifetime follows the recordar flag.
func (h *Handler) LoginHandler(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	req.normalize()
	if err := req.validate(); err != nil {
		respondError(c, err)
		return
	}

	user, err := h.Store.GetUserByLogin(c.Request.Context(), req.Correo, req.Telefono)
	if err != nil {
		respondError(c, err)
		return
	}

	if user.PasswordHash == "" {
		badRequest(c, "El usuario no tiene contraseña registrada. Por favor, restablece tu contraseña o regístrate de nuevo.")
		return
	}
	if !user.CheckPassword(req.Contrasena) {
		respondError(c, apperr.New(apperr.Unauthenticated, "Contraseña incorrecta"))
		return
	}

	if user.TOTPEnabled {
		if req.Codigo == "" {
			c.JSON(http.StatusOK, gin.H{
				"requires2fa": true,
				"message":     "Se requiere el código de verificación",
			})
			return
		}
		if !models.VerifyTOTPCode(user.TOTPSecret, req.Codigo, h.Now()) {
			respondError(c, apperr.New(apperr.Unauthenticated, "Código de verificación inválido"))
			return
		}
	}

	token, err := h.Codec.Issue(user.ID, user.Correo, user.Rol, auth.LifetimeFor(req.remember()))
	if err != nil {
		respondError(c, err)
		return
	}

	log.Printf("Inicio de sesión exitoso para: %s", user.NombreCompleto())

	c.JSON(http.StatusOK, gin.H{
		"message":   "Inicio de sesión exitoso",
		"token":     token.Value,
		"tokenType": token.Type.String(),
		"expiresAt": token.ExpiresAt.UTC(),
		"user":      userResponse(user),
	})
}

func userResponse(u models.User) gin.H {
	return gin.H{
		"id":             u.ID,
		"nombre":         u.Nombre,
		"apellido":       u.Apellido,
		"nombreCompleto": u.NombreCompleto(),
		"correo":         u.Correo,
		"telefono":       u.Telefono,
		"rol":            u.Rol,
		"totp_enabled":   u.TOTPEnabled,
	}
}
