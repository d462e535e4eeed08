package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// ErrDisabled is returned when no signing key is configured. HS256 accepts an
// empty key, so tokens are refused outright instead.
var ErrDisabled = errors.New("accounts disabled")

type Claims struct {
	UserID string `json:"uid"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 account tokens. Accounts live with
// an external identity provider; only the user id matters here.
type Authenticator struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func New(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{key: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a signing key is configured.
func (a *Authenticator) Enabled() bool { return a != nil && len(a.key) > 0 }

func (a *Authenticator) Issue(userID, name string) (string, error) {
	if !a.Enabled() {
		return "", ErrDisabled
	}
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidToken)
	}
	now := a.now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.key)
}

func (a *Authenticator) Parse(tokenString string) (Claims, error) {
	if !a.Enabled() {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrDisabled)
	}
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

type userKey struct{}

func WithUser(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, userKey{}, claims)
}

// UserFrom returns the signed-in user of the request, if any.
func UserFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(userKey{}).(Claims)
	return c, ok
}

// Middleware attaches the bearer token's user to the request context.
// Requests without a token pass through anonymously; a bad token, or any token
// while accounts are disabled, is a 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.Parse(header)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims)))
	})
}

// RequireUser rejects requests that did not carry a valid token.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFrom(r.Context()); !ok {
			http.Error(w, "sign in required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
