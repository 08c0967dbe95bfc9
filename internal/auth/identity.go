package auth

import (
	"context"
	"strings"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/models"
)

// UserLookup fetches a user record by id. A missing user is apperr.NotFound.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

// OwnerLookup reports which user owns a resource. Each resource module
// supplies its own, so the gateway never depends on resource types.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, resourceID string) (string, error)
}

// Identity is the request-scoped view of the authenticated user. It is never
// persisted.
type Identity struct {
	UserID   string `json:"id"`
	Email    string `json:"email"`
	Rol      string `json:"rol"`
	Nombre   string `json:"nombre"`
	Apellido string `json:"apellido"`
}

// IsAdmin reports whether the identity carries the administrative role.
func (i Identity) IsAdmin() bool {
	return i.Rol == models.RoleAdmin
}

// DisplayName is "Nombre Apellido", falling back to the email.
func (i Identity) DisplayName() string {
	if n := strings.TrimSpace(i.Nombre + " " + i.Apellido); n != "" {
		return n
	}
	return i.Email
}

// Resolution is the outcome of optional authentication: either an Identity
// or nothing.
type Resolution struct {
	identity Identity
	resolved bool
}

// Resolved wraps an identity.
func Resolved(id Identity) Resolution {
	return Resolution{identity: id, resolved: true}
}

// Absent is the resolution of an anonymous request.
func Absent() Resolution {
	return Resolution{}
}

// Identity returns the resolved identity and whether there was one.
func (r Resolution) Identity() (Identity, bool) {
	return r.identity, r.resolved
}

// Resolver turns an Authorization header into an Identity.
type Resolver struct {
	codec *Codec
	users UserLookup
}

func NewResolver(codec *Codec, users UserLookup) *Resolver {
	return &Resolver{codec: codec, users: users}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", apperr.New(apperr.Unauthenticated, "Token de acceso requerido")
	}
	return token, nil
}

// Resolve verifies the bearer token and loads its user. Errors are
// Unauthenticated, Malformed or Expired for credential problems, NotFound when
// the user no longer exists and Internal when the lookup itself failed.
func (r *Resolver) Resolve(ctx context.Context, header string) (Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return Identity{}, err
	}

	subject, err := r.codec.Verify(token)
	if err != nil {
		return Identity{}, err
	}

	user, err := r.users.GetUser(ctx, subject.ID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return Identity{}, apperr.Wrap(apperr.NotFound, "Usuario no encontrado", err)
		}
		return Identity{}, apperr.Wrap(apperr.Internal, "user lookup", err)
	}

	return Identity{
		UserID:   user.ID,
		Email:    user.Correo,
		Rol:      user.Rol,
		Nombre:   user.Nombre,
		Apellido: user.Apellido,
	}, nil
}

// ResolveOptional behaves like Resolve but turns every failure into Absent.
func (r *Resolver) ResolveOptional(ctx context.Context, header string) Resolution {
	if header == "" {
		return Absent()
	}
	id, err := r.Resolve(ctx, header)
	if err != nil {
		return Absent()
	}
	return Resolved(id)
}

// RequireRole fails with Forbidden unless the identity has the role.
func RequireRole(id Identity, rol string) error {
	if id.Rol != rol {
		return apperr.New(apperr.Forbidden, "Acceso denegado. Se requieren permisos de administrador")
	}
	return nil
}

// Authorize lets administrators through unconditionally and otherwise
// requires the identity to own the resource.
func Authorize(ctx context.Context, id Identity, owners OwnerLookup, resourceID string) error {
	if id.IsAdmin() {
		return nil
	}
	owner, err := owners.OwnerOf(ctx, resourceID)
	if err != nil {
		return err
	}
	if !SameID(owner, id.UserID) {
		return apperr.New(apperr.Forbidden, "Acceso denegado. Solo puedes modificar tus propios recursos")
	}
	return nil
}

// SameID compares two identifiers after normalising whitespace and case.
func SameID(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// OwnerLookupFunc adapts a function to OwnerLookup.
type OwnerLookupFunc func(ctx context.Context, resourceID string) (string, error)

func (f OwnerLookupFunc) OwnerOf(ctx context.Context, resourceID string) (string, error) {
	return f(ctx, resourceID)
}
