package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"pastebin/cfg"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/auth"
	"pastebin/svc/lim"
	"pastebin/svc/util"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
)

type claimsKey struct{}

type Mw struct {
	lim    *lim.Limiter
	tokens *auth.TokenService
	cfg    *cfg.Cfg
}

func NewMw(limiter *lim.Limiter, tokens *auth.TokenService, c *cfg.Cfg) *Mw {
	return &Mw{lim: limiter, tokens: tokens, cfg: c}
}

// RequestID keeps a well formed incoming X-Request-ID and mints one otherwise.
func (m *Mw) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := util.RequestIDFrom(r.Header.Get("X-Request-ID"))
		ctx := util.SetRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
func (m *Mw) ContextTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), m.cfg.ContextTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
func (m *Mw) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		next.ServeHTTP(w, r)
	})
}
func (m *Mw) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				util.Error().
					Interface("panic", rvr).
					Str("request_id", util.GetRequestID(r.Context())).
					Msg("panic recovered")
				writeErr(w, r, domain.ErrInternalServer)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimit counts requests per client for endpoint against the shared budget.
func (m *Mw) RateLimit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := m.lim.Check(r, endpoint)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
			if !result.Allowed {
				hlog.FromRequest(r).Warn().
					Str("ip", util.RedactIP(lim.GetRealIP(r, m.cfg.TrustedProxies))).
					Str("endpoint", endpoint).
					Msg("rate limit exceeded")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(result.Reset).Seconds())))
				writeErr(w, r, domain.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows only the configured origins. An empty list allows none.
func (m *Mw) CORS() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: m.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", "X-Password"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}
	if len(m.cfg.AllowedOrigins) == 0 {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return cors.Handler(opts)
}
func (m *Mw) BasicAuthMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.MetricsUser == "" && m.cfg.MetricsPass.Value() == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		userMatch, passMatch := 0, 0
		if ok {
			userMatch = subtle.ConstantTimeCompare([]byte(user), []byte(m.cfg.MetricsUser))
			passMatch = subtle.ConstantTimeCompare([]byte(pass), []byte(m.cfg.MetricsPass.Value()))
		}
		if !ok || userMatch != 1 || passMatch != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Observe feeds the anomaly detector and the request duration histogram.
func (m *Mw) Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.lim.RecordRequest()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		if ww.status >= 500 {
			m.lim.RecordError()
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).
			Observe(time.Since(start).Seconds())
	})
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// RequireAuth rejects requests without a valid bearer token.
func (m *Mw) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r)
		if !ok {
			writeErr(w, r, domain.ErrUnauthorized.WithMsg("missing bearer token"))
			return
		}
		claims, err := m.tokens.ValidateAccessToken(token)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// OptionalAuth attaches the caller when a valid token is present. A bad
// token is still an error; no token means anonymous.
func (m *Mw) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := bearer(r); !ok {
			next.ServeHTTP(w, r)
			return
		}
		m.RequireAuth(next).ServeHTTP(w, r)
	})
}

// RequireConfirmedEmail must run after RequireAuth. It is a no-op unless
// REQUIRE_CONFIRMED_EMAIL is set.
func (m *Mw) RequireConfirmedEmail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.RequireConfirmedEmail {
			if c := claimsFrom(r); c == nil || !c.EmailConfirmed {
				writeErr(w, r, domain.ErrEmailNotConfirmed)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
func claimsFrom(r *http.Request) *auth.Claims {
	c, _ := r.Context().Value(claimsKey{}).(*auth.Claims)
	return c
}

// userID is empty for anonymous callers.
func userID(r *http.Request) string {
	if c := claimsFrom(r); c != nil {
		return c.UserID()
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
