// Package auth issues and validates the user-plane JWTs (Identity subsystem).
// Agent-plane bearer tokens are not handled here; the Agent Registry validates
// them (agents.Service.ValidateToken).
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload issued to an authenticated control-plane user.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates user bearer tokens (HS256).
type JWTManager struct {
	secret     []byte
	audience   string
	adminRoles map[string]struct{}
}

// NewJWTManager constructs a manager from a shared HMAC secret. Returns nil
// if secret is blank, mirroring the teacher's fail-closed construction.
func NewJWTManager(secret, audience string, adminRoles []string) *JWTManager {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	roles := make(map[string]struct{}, len(adminRoles))
	for _, r := range adminRoles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			roles[r] = struct{}{}
		}
	}
	return &JWTManager{secret: []byte(secret), audience: strings.TrimSpace(audience), adminRoles: roles}
}

// Issue mints a signed token for userID/email valid for ttl.
func (m *JWTManager) Issue(userID, email, role string, ttl time.Duration) (string, time.Time, error) {
	if m == nil || len(m.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if m.audience != "" {
		claims.RegisteredClaims.Audience = jwt.ClaimStrings{m.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies tokenString, rejecting expired tokens and
// audience mismatches.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	if m == nil || len(m.secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if m.audience != "" {
		validAud := false
		for _, a := range claims.Audience {
			if strings.EqualFold(strings.TrimSpace(a), m.audience) {
				validAud = true
				break
			}
		}
		if !validAud {
			return nil, fmt.Errorf("invalid audience")
		}
	}
	return claims, nil
}

// IsAdmin reports whether role is configured as an admin role.
func (m *JWTManager) IsAdmin(role string) bool {
	if m == nil {
		return false
	}
	_, ok := m.adminRoles[strings.ToLower(strings.TrimSpace(role))]
	return ok
}
