package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims holds the JWT token payload. Roles are a hint only: the tenant
// resolver reloads the user's roles and grants on every request.
type Claims struct {
	jwt.RegisteredClaims
	TenantID  string   `json:"tid"`
	UserID    string   `json:"uid"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"typ"` // "access" or "refresh"
}

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	issuer = "domus"
)

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// IssueAccessToken creates a signed JWT access token.
func IssueAccessToken(secret string, tenantID, userID uuid.UUID, roles []string, ttl time.Duration) (string, error) {
	return issueToken(secret, tenantID, userID, roles, TokenTypeAccess, ttl)
}

// IssueRefreshToken creates a signed JWT refresh token.
func IssueRefreshToken(secret string, tenantID, userID uuid.UUID, roles []string, ttl time.Duration) (string, error) {
	return issueToken(secret, tenantID, userID, roles, TokenTypeRefresh, ttl)
}

func issueToken(secret string, tenantID, userID uuid.UUID, roles []string, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
			Subject:   userID.String(),
		},
		TenantID:  tenantID.String(),
		UserID:    userID.String(),
		Roles:     slices.Clone(roles),
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.issueToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}

// ParseIDs returns the tenant and user IDs carried by the claims.
func (c *Claims) ParseIDs() (tenantID, userID uuid.UUID, err error) {
	tenantID, err = uuid.Parse(c.TenantID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("auth.Claims.ParseIDs: tenant: %w", ErrInvalidToken)
	}
	userID, err = uuid.Parse(c.UserID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("auth.Claims.ParseIDs: user: %w", ErrInvalidToken)
	}
	return tenantID, userID, nil
}
