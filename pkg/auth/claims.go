package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	RoleID *uuid.UUID
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by callers.
type AccessTokenClaims struct {
	UserID uuid.UUID  `json:"user_id"`
	RoleID *uuid.UUID `json:"role_id,omitempty"`
	jwt.RegisteredClaims
}
