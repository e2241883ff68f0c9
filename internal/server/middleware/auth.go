// Package middleware provides HTTP middleware for authentication.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jonathan/levelup/internal/types"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

const identityKey ContextKey = "identity"

// ErrNoIdentity is returned when a request carries no verified identity.
var ErrNoIdentity = errors.New("identity not found in request context")

// TokenValidator verifies a bearer token and returns the caller.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*types.Identity, error)
}

// TokenValidatorFunc adapts a function to TokenValidator.
type TokenValidatorFunc func(ctx context.Context, token string) (*types.Identity, error)

// ValidateToken implements TokenValidator.
func (f TokenValidatorFunc) ValidateToken(ctx context.Context, token string) (*types.Identity, error) {
	return f(ctx, token)
}

// AuthMiddleware rejects requests without a valid bearer token and puts the
// verified identity in the request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			id, err := validator.ValidateToken(r.Context(), token)
			if err != nil || id == nil || id.UserID == "" {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// BearerToken extracts the token of a case-insensitive "Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the verified caller of the request.
func GetIdentity(r *http.Request) (*types.Identity, error) {
	id, ok := r.Context().Value(identityKey).(*types.Identity)
	if !ok || id == nil {
		return nil, ErrNoIdentity
	}
	return id, nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(types.ErrorResponse{Error: "unauthorized", Details: msg}) //nolint:errcheck
}
