package service

import (
	"fmt"

	"github.com/marketingguide/mgai-api/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Supabase access tokens
// ============================================================

// SupabaseClaims are the claims Supabase Auth puts in access tokens.
type SupabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates Supabase access tokens signed with the project's
// JWT secret.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for HS256 tokens.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses the token and returns the caller identity.
func (v *TokenVerifier) Verify(tokenString string) (domain.Identity, error) {
	claims := &SupabaseClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Identity{}, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	if claims.Role == domain.ServiceRole {
		return domain.Identity{UserID: claims.Subject, Role: claims.Role}, nil
	}
	if claims.Subject == "" {
		return domain.Identity{}, &domain.ErrUnauthorized{Message: "token has no subject"}
	}
	return domain.Identity{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// SignServiceToken issues a short-lived service_role token. The CLI uses it
// to act on behalf of any user.
func (v *TokenVerifier) SignServiceToken(claims SupabaseClaims) (string, error) {
	claims.Role = domain.ServiceRole
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
