package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weatherpro/weather-service/internal/observability"
	"github.com/weatherpro/weather-service/internal/throttle"
)

type ctxKey int

const (
	ctxKeyCorrelationID ctxKey = iota
	ctxKeyLogger
)

// CorrelationIDFromContext returns the request correlation ID, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}

// LoggerFromContext returns the request-scoped logger, or nil.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*zap.Logger); ok {
		return l
	}
	return nil
}

// CorrelationIDMiddleware assigns each request a correlation ID (reusing
// the caller's X-Correlation-ID when present) and stores a logger tagged
// with it in the request context.
func CorrelationIDMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := r.Header.Get("X-Correlation-ID")
			if corrID == "" {
				corrID = uuid.New().String()
			}
			w.Header().Set("X-Correlation-ID", corrID)

			ctx := context.WithValue(r.Context(), ctxKeyCorrelationID, corrID)
			ctx = context.WithValue(ctx, ctxKeyLogger, logger.With(zap.String("correlation_id", corrID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware records request counts, latency and in-flight gauge.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		observability.HTTPRequestsInFlight.Inc()
		defer observability.HTTPRequestsInFlight.Dec()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		route := routeTemplate(r)
		statusCode := fmt.Sprintf("%dxx", recorder.statusCode/100)

		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
	})
}

// routeTemplate returns the mux route template so metrics are not
// exploded per city name.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// TimeoutMiddleware sets a deadline on the request context. Downstream
// handlers receive context.DeadlineExceeded when exceeded. Apply only to
// routes that call upstream.
func TimeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GlobalRateLimitMiddleware returns 429 when the process-wide token
// bucket is exhausted. Protects the upstream API across all identities.
// Disabled when limiter is nil.
func GlobalRateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				observability.RateLimitDeniedTotal.Inc()
				writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ThrottleMiddleware applies a per-identity admission gate before the
// weather pipeline runs. Identity is the X-User-ID header when present,
// otherwise the client address. Denials answer 429 with Retry-After.
func ThrottleMiddleware(gate throttle.Gate, policy string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := gate.Check(identityFor(r))
			if !decision.Allowed {
				observability.ThrottleDeniedTotal.WithLabelValues(policy).Inc()
				if logger := LoggerFromContext(r.Context()); logger != nil {
					logger.Debug("throttle denied", zap.String("policy", policy), zap.Int("wait_seconds", decision.WaitSeconds()))
				}
				if wait := decision.WaitSeconds(); wait > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(wait))
				}
				writeThrottled(w, r, decision.WaitSeconds())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// identityFor extracts the caller identity used for throttling.
func identityFor(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
