package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/auth"
	"entornos-api-go/internal/models"
)

const (
	identityKey   = "identity"
	resolutionKey = "resolution"
)

// RequireAuth rejects the request with 401 unless it carries a valid bearer
// token for an existing user.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := h.Resolver.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if apperr.Is(err, apperr.NotFound) {
				// The token was fine but its user is gone.
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.Message(err)})
				return
			}
			respondError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Set(resolutionKey, auth.Resolved(id))
		c.Next()
	}
}

// OptionalAuth attaches the identity when the token resolves and continues
// anonymously otherwise.
func (h *Handler) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := h.Resolver.ResolveOptional(c.Request.Context(), c.GetHeader("Authorization"))
		if id, ok := res.Identity(); ok {
			c.Set(identityKey, id)
		}
		c.Set(resolutionKey, res)
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := currentIdentity(c)
		if !ok {
			respondError(c, apperr.New(apperr.Unauthenticated, "Autenticación requerida"))
			return
		}
		if err := auth.RequireRole(id, models.RoleAdmin); err != nil {
			respondError(c, err)
			return
		}
		c.Next()
	}
}

// RequireOwnerOrAdmin lets the request through when the caller owns the
// resource named by the route parameter, or is an administrator.
func RequireOwnerOrAdmin(owners auth.OwnerLookup, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := currentIdentity(c)
		if !ok {
			respondError(c, apperr.New(apperr.Unauthenticated, "Autenticación requerida"))
			return
		}
		resourceID := strings.TrimSpace(c.Param(param))
		if resourceID == "" {
			badRequest(c, "ID del recurso requerido")
			return
		}
		if err := auth.Authorize(c.Request.Context(), id, owners, resourceID); err != nil {
			respondError(c, err)
			return
		}
		c.Next()
	}
}

func currentIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

// currentResolution is Absent for routes without any auth middleware.
func currentResolution(c *gin.Context) auth.Resolution {
	if v, ok := c.Get(resolutionKey); ok {
		if res, ok := v.(auth.Resolution); ok {
			return res
		}
	}
	return auth.Absent()
}

// InitAdmin creates the default administrator if no user has that email.
func (h *Handler) InitAdmin(ctx context.Context, email, password string) error {
	_, err := h.Store.GetUserByLogin(ctx, email, "")
	if err == nil {
		return nil
	}
	if !apperr.Is(err, apperr.NotFound) {
		return err
	}

	user, err := h.Store.CreateUser(ctx, models.User{
		Nombre:   "Admin",
		Apellido: "Sistema",
		Correo:   email,
		Rol:      models.RoleAdmin,
	}, password)
	if err != nil {
		return err
	}
	log.Printf("Created default admin user: %s", user.Correo)
	return nil
}
