package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rrens/chatnil/internal/api/middleware"
	"github.com/Rrens/chatnil/internal/domain"
)

type verifierFunc func(string) (*domain.Principal, error)

func (f verifierFunc) Verify(token string) (*domain.Principal, error) { return f(token) }

type limiterFunc func(string) (bool, int, time.Time, error)

func (f limiterFunc) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return f(key)
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	w.Write([]byte(userID))
}

func TestAuthenticate(t *testing.T) {
	verifier := verifierFunc(func(token string) (*domain.Principal, error) {
		if token != "good" {
			return nil, errors.New("bad token")
		}
		return &domain.Principal{UserID: "u1", Email: "u1@example.com"}, nil
	})
	h := middleware.NewAuthMiddleware(verifier).Authenticate(http.HandlerFunc(echoUser))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
		{"scheme is case insensitive", "bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusOK && rec.Body.String() != "u1" {
				t.Errorf("expected user u1 in context, got %q", rec.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)

	tests := []struct {
		name          string
		limiter       limiterFunc
		wantStatus    int
		wantRemaining string
	}{
		{
			name:          "allowed",
			limiter:       func(string) (bool, int, time.Time, error) { return true, 42, reset, nil },
			wantStatus:    http.StatusOK,
			wantRemaining: "42",
		},
		{
			name:          "exceeded",
			limiter:       func(string) (bool, int, time.Time, error) { return false, 0, reset, nil },
			wantStatus:    http.StatusTooManyRequests,
			wantRemaining: "0",
		},
		{
			name:       "limiter down fails open",
			limiter:    func(string) (bool, int, time.Time, error) { return false, 0, time.Time{}, errors.New("redis down") },
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := middleware.NewRateLimitMiddleware(tt.limiter).Limit(http.HandlerFunc(echoUser))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(middleware.WithUserID(req.Context(), "u1"))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("X-RateLimit-Remaining"); got != tt.wantRemaining {
				t.Errorf("expected remaining %q, got %q", tt.wantRemaining, got)
			}
			if tt.wantStatus == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
		})
	}

	t.Run("anonymous", func(t *testing.T) {
		h := middleware.NewRateLimitMiddleware(tests[0].limiter).Limit(http.HandlerFunc(echoUser))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
		}
	})
}

func TestLogger(t *testing.T) {
	h := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
}
