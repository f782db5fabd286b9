package rest

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/baechuer/tablebook/internal/domain"
	appCtx "github.com/baechuer/tablebook/internal/pkg/context"
	"github.com/baechuer/tablebook/internal/security"
)

type AuthOptions struct {
	// Accept the token from ?token= as well; browsers cannot set headers on
	// websocket requests.
	AllowQueryToken bool
	// Let requests without any token through unauthenticated.
	Optional bool
}

func AuthMiddleware(verifier security.AccessTokenVerifier, opt AuthOptions) func(next http.Handler) http.Handler {
	if verifier == nil {
		panic("AuthMiddleware: nil verifier")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, present := bearerToken(r, opt.AllowQueryToken)
			if !present {
				if opt.Optional {
					next.ServeHTTP(w, r)
					return
				}
				fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
				return
			}

			claims, err := verifier.VerifyAccessToken(raw)
			if err != nil {
				// expired and invalid both map to 401
				fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
				return
			}

			// memberships are keyed by the normalized email
			uid := domain.NormalizeUserID(claims.Identity())
			if uid == "" {
				fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
				return
			}

			ctx := withAuth(r.Context(), AuthContext{
				UserID: uid,
				Email:  strings.TrimSpace(claims.Email),
				Name:   strings.TrimSpace(claims.Name),
				Role:   strings.TrimSpace(claims.Role),
			})
			ctx = appCtx.WithUserID(ctx, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the raw token and whether the caller supplied any
// credentials at all. A malformed header counts as supplied.
func bearerToken(r *http.Request, allowQuery bool) (string, bool) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", true
		}
		return strings.TrimSpace(parts[1]), true
	}
	if allowQuery {
		if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
			return t, true
		}
	}
	return "", false
}

func RateLimitMiddleware(limiter domain.RateLimiter, limit int, window time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, _ := limiter.AllowRequest(r.Context(), clientIP(r), limit, window)
			if !allowed {
				w.Header().Set("Retry-After", retryAfter(window))
				fail(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(window time.Duration) string {
	s := int(window / time.Second)
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}

// clientIP keeps it simple: RemoteAddr host part.
// Trusting X-Forwarded-For blindly is a spoofing risk.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// restrictive policy for JSON-only endpoints
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=(), bluetooth=()")

		next.ServeHTTP(w, r)
	})
}
