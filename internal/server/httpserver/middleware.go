package httpserver

import (
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/alistairhendersoninfo/github-mcp-server/internal/errs"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/metrics"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/model"
	"github.com/alistairhendersoninfo/github-mcp-server/internal/server/authctx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Logging logs one line per request with metadata only, no payloads.
func Logging(log *zap.Logger, m *metrics.Collector, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			dur := time.Since(start)
			m.RecordHTTPRequest(r.URL.Path, sw.status, dur)
			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("dur", dur),
				zap.String("peer", clientIP(r, trustProxy)),
			)
		})
	}
}

// Recover converts panics into 500 responses.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ipLimiter applies a per-IP token bucket to unauthenticated endpoints.
// Buckets for idle IPs are dropped on a coarse sweep.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	rpm     int
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(rpm int) *ipLimiter {
	return &ipLimiter{buckets: map[string]*ipBucket{}, rpm: rpm}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.rpm)}
		l.buckets[ip] = b
	}
	b.seen = now

	if len(l.buckets) > 10000 {
		for k, v := range l.buckets {
			if now.Sub(v.seen) > 10*time.Minute {
				delete(l.buckets, k)
			}
		}
	}
	return b.lim.Allow()
}

// RateLimitAuth rejects clients exceeding the per-IP quota on the OAuth
// endpoints.
func (s *Server) rateLimitAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.allow(clientIP(r, s.cfg.TrustProxyHeaders)) {
			s.metrics.RecordRateLimited("auth")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionAuth authenticates the bearer token and stores the user in the
// request context.
func (s *Server) sessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.sessions.Validate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, errs.ErrExpired):
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		case errors.Is(err, errs.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		default:
			s.log.Error("session validation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx := authctx.WithUserID(r.Context(), userID)
		ctx = authctx.WithMeta(ctx, clientMeta(r, s.cfg.TrustProxyHeaders))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// clientIP reads the first X-Forwarded-For hop only when the deployment
// declares a trusted proxy in front; otherwise the header is client-supplied
// and the peer address is authoritative.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(ip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientMeta(r *http.Request, trustProxy bool) model.ClientMeta {
	return model.ClientMeta{
		IPAddress: clientIP(r, trustProxy),
		UserAgent: r.UserAgent(),
	}
}
