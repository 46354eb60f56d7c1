package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-mealkit/internal/obs"
)

func TestAdminTokenMiddleware(t *testing.T) {
	var sawAdmin bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAdmin, _ = obs.AdminFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AdminToken{Token: "s3cret"}.Middleware(next)

	cases := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusForbidden},
		{"bearer", "Authorization", "Bearer s3cret", http.StatusOK},
		{"lowercase bearer", "Authorization", "bearer s3cret", http.StatusOK},
		{"header", AdminTokenHeader, "s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sawAdmin = false
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/discount-rules", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.status == http.StatusOK, sawAdmin)
		})
	}
}

func TestAdminTokenEmptyRejectsEverything(t *testing.T) {
	handler := AdminToken{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/discount-rules", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("memory store", func(t *testing.T) {
		mw, err := AdminRateLimit(nil, "2-M")
		require.NoError(t, err)
		handler := mw(ok)
		for i := 0; i < 2; i++ {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin", nil))
			require.Equal(t, http.StatusNoContent, rr.Code)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin", nil))
		require.Equal(t, http.StatusTooManyRequests, rr.Code)
		require.Contains(t, rr.Body.String(), "RATE_LIMITED")
	})

	t.Run("redis store", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		mw, err := AdminRateLimit(client, "1-H")
		require.NoError(t, err)
		handler := mw(ok)

		first := httptest.NewRecorder()
		handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/admin", nil))
		require.Equal(t, http.StatusNoContent, first.Code)
		require.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

		second := httptest.NewRecorder()
		handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/admin", nil))
		require.Equal(t, http.StatusTooManyRequests, second.Code)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := AdminRateLimit(nil, "lots")
		require.Error(t, err)
	})
}
