package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"entornos-api-go/internal/models"
)

// MeHandler returns the currently authenticated user's info
func (h *Handler) MeHandler(c *gin.Context) {
	id, _ := currentIdentity(c)
	user, err := h.Store.GetUser(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userResponse(user)})
}

type registrationRequest struct {
	Nombre     string `json:"nombre"`
	Apellido   string `json:"apellido"`
	Correo     string `json:"correo"`
	Telefono   string `json:"telefono"`
	Contrasena string `json:"contrasena"`
}

// RegisterHandler creates a regular user account.
func (h *Handler) RegisterHandler(c *gin.Context) {
	var req registrationRequest
	if !bindJSON(c, &req) {
		return
	}

	req.Nombre = sanitize(req.Nombre)
	req.Apellido = sanitize(req.Apellido)
	req.Correo = strings.ToLower(sanitize(req.Correo))
	req.Telefono = sanitize(req.Telefono)
	req.Contrasena = sanitize(req.Contrasena)

	switch {
	case !validName(req.Nombre):
		badRequest(c, "El nombre es requerido y solo puede contener letras, espacios, guiones y apostrofes")
		return
	case !validName(req.Apellido):
		badRequest(c, "El apellido es requerido y solo puede contener letras, espacios, guiones y apostrofes")
		return
	case !validEmail(req.Correo):
		badRequest(c, "Formato de correo electrónico inválido")
		return
	case !validPhone(req.Telefono):
		badRequest(c, "Formato de teléfono inválido")
		return
	case !validPassword(req.Contrasena):
		badRequest(c, "La contraseña debe tener entre 6 y 128 caracteres y no puede contener espacios ni caracteres especiales")
		return
	}

	// Registration never grants the admin role.
	user, err := h.Store.CreateUser(c.Request.Context(), models.User{
		Nombre:   req.Nombre,
		Apellido: req.Apellido,
		Correo:   req.Correo,
		Telefono: req.Telefono,
		Rol:      models.RoleUsuario,
	}, req.Contrasena)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Printf("Usuario registrado: %s", user.Correo)
	c.JSON(http.StatusCreated, gin.H{
		"message": "Usuario registrado exitosamente",
		"user":    userResponse(user),
	})
}
