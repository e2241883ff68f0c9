// Package types provides the request and response types of the HTTP API.
package types

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Identity is a verified caller, as returned by a token validator.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ProfileRequest updates the caller's display name.
type ProfileRequest struct {
	DisplayName string `json:"displayName" validate:"required,min=2,max=60"`
}

// Normalize trims surrounding whitespace.
func (r *ProfileRequest) Normalize() {
	r.DisplayName = strings.TrimSpace(r.DisplayName)
}

// Validate validates the ProfileRequest using the validator.
func (r *ProfileRequest) Validate() error {
	return validate.Struct(r)
}

// TokenResponse carries a locally minted bearer token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}
