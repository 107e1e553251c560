package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Notifuse/insights/pkg/logger"
)

type contextKey string

const (
	// TenantIDKey holds the tenant resolved from the bearer token
	TenantIDKey contextKey = "tenant_id"
	// RequestIDKey holds the request id
	RequestIDKey contextKey = "request_id"
)

var (
	ErrMissingToken  = errors.New("authorization header is required")
	ErrInvalidHeader = errors.New("invalid authorization header format")
	ErrMissingTenant = errors.New("tenant_id not found in token")
)

// TenantClaims are the claims of an analytics bearer token
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// SecretFunc returns the HMAC secret tokens are verified with. It is read per request so
// a rotated secret applies without a restart.
type SecretFunc func() ([]byte, error)

// AuthConfig verifies HS256/384/512 tokens and resolves the tenant
type AuthConfig struct {
	secret SecretFunc
	logger logger.Logger
}

// NewAuthMiddleware creates the auth middleware
func NewAuthMiddleware(secret SecretFunc, logger logger.Logger) *AuthConfig {
	return &AuthConfig{
		secret: secret,
		logger: logger,
	}
}

// RequireAuth rejects requests without a valid token naming a tenant
func (ac *AuthConfig) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := ac.authenticate(r)
			if err != nil {
				ac.logger.WithField("path", r.URL.Path).WithField("error", err.Error()).Warn("Rejected unauthenticated analytics request")
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (ac *AuthConfig) authenticate(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrInvalidHeader
	}

	secret, err := ac.secret()
	if err != nil {
		return "", fmt.Errorf("failed to load token secret: %w", err)
	}

	claims := &TenantClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method to prevent algorithm confusion
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	if claims.TenantID == "" || claims.TenantID == "null" {
		return "", ErrMissingTenant
	}

	return claims.TenantID, nil
}

// TenantFromContext returns the tenant resolved by RequireAuth
func TenantFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(string)
	return tenantID, ok && tenantID != ""
}
