package security

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/obs"
)

// AdminTokenHeader carries the admin token when an Authorization header is not used.
const AdminTokenHeader = "X-Admin-Token"

// AdminToken guards administrative routes with a shared static token.
// An empty Token rejects every request.
type AdminToken struct {
	Token string
}

// Middleware accepts "Authorization: Bearer <token>" or the X-Admin-Token header.
func (a AdminToken) Middleware(next http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(a.Token))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(expected) == 0 {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin access disabled", nil)
			return
		}
		presented := presentedToken(r)
		if presented == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "invalid admin token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(obs.WithAdmin(r.Context())))
	})
}

func presentedToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.Header.Get(AdminTokenHeader))
}

// AdminRateLimit builds a fixed-window limiter for admin routes keyed by client IP.
// rate uses the "<limit>-<period>" format, e.g. "300-M". A nil client uses an in-process store.
func AdminRateLimit(rdb *redis.Client, rate string) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(strings.TrimSpace(rate))
	if err != nil {
		return nil, fmt.Errorf("parse admin rate limit %q: %w", rate, err)
	}
	var store limiter.Store
	if rdb != nil {
		store, err = limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ratelimit:admin", MaxRetry: 3})
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStore()
	}
	mw := stdlib.NewMiddleware(limiter.New(store, parsed),
		stdlib.WithKeyGetter(common.ClientIP),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many admin requests", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rate limiter unavailable", nil)
		}),
	)
	return mw.Handler, nil
}
