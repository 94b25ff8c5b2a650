package middleware

import (
	"net/http"
	"strconv"

	"cpsocial/internal/handlers/response"
	"cpsocial/internal/ratelimit"
)

// RateLimit counts each request against class, keyed by client address.
// proxies may be nil, in which case only the peer address is used.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class, proxies *TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Allow(r.Context(), class, proxies.ClientIP(r))
			if res.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}
			if !res.Allowed {
				response.Error(w, http.StatusTooManyRequests, "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
