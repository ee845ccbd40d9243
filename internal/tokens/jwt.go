// Package tokens verifies and mints the bearer tokens clients present on
// initialize.
package tokens

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// RoleAdmin may subscribe to any session.
const RoleAdmin = "admin"

// Claims carries the identity and its permitted session scope.
type Claims struct {
	UserID   string   `json:"user_id"`
	Roles    []string `json:"roles"`
	Sessions []string `json:"sessions,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified caller attached to a connection.
type Identity struct {
	UserID   string
	Roles    []string
	Sessions []string
}

// AllowsSession reports whether the identity may subscribe to session.
// Admins and identities with no explicit scope may subscribe to any session.
func (i *Identity) AllowsSession(session string) bool {
	if i == nil {
		return false
	}
	if len(i.Sessions) == 0 || slices.Contains(i.Roles, RoleAdmin) {
		return true
	}
	return slices.Contains(i.Sessions, session)
}

// Verifier validates HS256 tokens against a shared secret.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// TokenGenerator mints and validates tokens with one shared secret.
type TokenGenerator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenGenerator(secret, issuer string, ttl time.Duration) *TokenGenerator {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenGenerator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate mints a token for userID limited to sessions (empty means all).
func (tg *TokenGenerator) Generate(userID string, roles, sessions []string) (string, error) {
	now := tg.now()
	claims := Claims{
		UserID:   userID,
		Roles:    roles,
		Sessions: sessions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tg.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tg.issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tg.secret)
}

// Verify checks signature, iat <= now <= exp, and returns the identity.
func (tg *TokenGenerator) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tg.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tg.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" || claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}

	return &Identity{
		UserID:   claims.UserID,
		Roles:    claims.Roles,
		Sessions: claims.Sessions,
	}, nil
}
