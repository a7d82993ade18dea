package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/api/response"
	"github.com/Rrens/chatnil/internal/domain"
)

type contextKey string

const (
	UserIDKey    contextKey = "userID"
	UserEmailKey contextKey = "userEmail"
)

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	Verify(token string) (*domain.Principal, error)
}

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate validates the JWT token
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Unauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := m.verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, principal.UserID)
		ctx = context.WithValue(ctx, UserEmailKey, principal.Email)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithUserID returns a context carrying an authenticated user id
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID gets the user ID from context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// GetUserEmail gets the user email from context
func GetUserEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}

// Limiter decides whether a caller may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, time.Time, error)
}

// RateLimitMiddleware handles rate limiting
type RateLimitMiddleware struct {
	rateLimiter Limiter
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(rateLimiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{rateLimiter: rateLimiter}
}

// Limit applies rate limiting based on user ID
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}

		allowed, remaining, resetTime, err := m.rateLimiter.Allow(r.Context(), userID)
		if err != nil {
			// If rate limiter fails, allow the request but log the error
			log.Warn().Err(err).Str("user_id", userID).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", resetTime.UTC().Format(time.RFC3339))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(resetTime)))
			response.TooManyRequests(w, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfter(reset time.Time) int {
	secs := int(time.Until(reset).Seconds() + 0.5)
	if secs < 1 {
		return 1
	}
	return secs
}
