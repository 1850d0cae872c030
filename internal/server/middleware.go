// Package server implements the DASH HTTP API: tenant-scoped ingestion and
// retrieval, placement-aware admission, and the observability/debug
// surface (§6.1). Middleware chain, recovery, and header hygiene are
// grounded on the teacher's internal/server/middleware.go.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dashdb/dash/internal/ctxutil"
	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/ratelimit"
)

// RequestIDFromContext extracts the request id set by requestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	return ctxutil.RequestID(ctx)
}

// requestIDMiddleware assigns a unique request id to each request.
// Client-supplied ids are accepted if they are a reasonable length (<=128
// chars) and contain only printable ASCII; otherwise a fresh uuid is used.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if !isValidRequestID(reqID) {
			reqID = uuid.New().String()
		}
		ctx := ctxutil.WithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isValidRequestID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// loggingMiddleware logs each request with structured fields.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		}
		if tid := traceIDFromContext(r.Context()); tid != "" {
			attrs = append(attrs, "trace_id", tid)
		}
		if p, ok := ctxutil.PrincipalFromContext(r.Context()); ok {
			attrs = append(attrs, "principal", p.Subject)
		}

		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelError
		} else if wrapped.statusCode >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request", attrs...)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var (
	tracer           = otel.Tracer("dash/http")
	httpMeter        = otel.GetMeterProvider().Meter("dash/http")
	httpRequestCount otelmetric.Int64Counter
	httpDuration     otelmetric.Float64Histogram
)

func init() {
	var err error
	httpRequestCount, err = httpMeter.Int64Counter("http.server.request_count")
	if err != nil {
		httpRequestCount, _ = httpMeter.Int64Counter("http.server.request_count.fallback")
	}
	httpDuration, err = httpMeter.Float64Histogram("http.server.duration", otelmetric.WithUnit("ms"))
	if err != nil {
		httpDuration, _ = httpMeter.Float64Histogram("http.server.duration.fallback", otelmetric.WithUnit("ms"))
	}
}

// routePattern extracts the registered mux pattern for metrics/spans,
// falling back to method + first path segment to bound cardinality.
func routePattern(r *http.Request) string {
	if pat := r.Pattern; pat != "" {
		return pat
	}
	parts := strings.SplitN(r.URL.Path, "/", 3)
	if len(parts) >= 2 {
		return r.Method + " /" + parts[1]
	}
	return r.Method + " " + r.URL.Path
}

// tracingMiddleware starts an OTEL span per request and records request
// count/duration metrics, keyed by mux route pattern to avoid unbounded
// cardinality from path parameters.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http.request",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))

		start := time.Now()
		sw, ok := w.(*statusWriter)
		if !ok {
			sw = &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		}
		next.ServeHTTP(sw, r.WithContext(ctx))

		pattern := routePattern(r)
		span.SetName(pattern)
		duration := time.Since(start)

		span.SetAttributes(attribute.Int("http.status_code", sw.statusCode))
		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", pattern),
			attribute.String("http.status_code", strconv.Itoa(sw.statusCode)),
		}
		httpRequestCount.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
		httpDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(attrs...))
	})
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// publicPaths skip authentication entirely.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authenticator is the subset of internal/auth.Authenticator middleware
// needs, narrowed so tests can stub credential verification.
type authenticator interface {
	Authenticate(apiKeyHeader, authorizationHeader string) (ctxutil.Principal, error)
}

// authMiddleware authenticates every request outside publicPaths via
// internal/auth, then populates the context with the resulting principal.
// Tenant-scope enforcement (internal/authz) happens per-handler, since the
// tenant id being acted on is request-shaped (body field or path param),
// not knowable generically at the middleware layer.
func authMiddleware(authenticator authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := authenticator.Authenticate(r.Header.Get("X-API-Key"), r.Header.Get("Authorization"))
		if err != nil {
			writeModelError(w, r, err)
			return
		}

		ctx := ctxutil.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimiter is the subset of internal/ratelimit.Limiter middleware needs.
type rateLimiter interface {
	Allow(ctx context.Context, rule ratelimit.Rule, key string) ratelimit.Result
}

// rateLimitMiddleware applies a per-principal sliding-window limit on top
// of admission's total-concurrency bound. A nil limiter disables the check
// (internal/ratelimit.New(nil, ...) already no-ops, but skipping the call
// entirely avoids a pointless context allocation per request when no
// backend is configured).
func rateLimitMiddleware(limiter rateLimiter, rule ratelimit.Rule, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		key := r.RemoteAddr
		if principal, ok := ctxutil.PrincipalFromContext(r.Context()); ok {
			key = principal.Subject
		}
		result := limiter.Allow(r.Context(), rule, key)
		for k, v := range result.FormatHeaders() {
			w.Header().Set(k, v)
		}
		if !result.Allowed {
			writeError(w, r, model.KindOverloaded.HTTPStatus(), model.ErrCodeOverloaded, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response using the standard envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: model.ResponseMeta{RequestID: RequestIDFromContext(r.Context()), Timestamp: time.Now().UTC()},
	}); err != nil {
		slog.Warn("failed to encode JSON response", "error", err, "request_id", RequestIDFromContext(r.Context()))
	}
}

// writeError writes a JSON error response using the taxonomy's code/status.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta:  model.ResponseMeta{RequestID: RequestIDFromContext(r.Context()), Timestamp: time.Now().UTC()},
	}); err != nil {
		slog.Warn("failed to encode JSON error response", "error", err, "request_id", RequestIDFromContext(r.Context()))
	}
}

// writeModelError classifies err against the taxonomy and writes the
// corresponding status/code. Every handler that calls into store/planner/
// router/authz/auth funnels its error through this single point so the
// Kind<->HTTPStatus mapping (model.Kind.HTTPStatus) lives in one place.
func writeModelError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	writeError(w, r, kind.HTTPStatus(), kind.Code(), err.Error())
}

// writeInternalError logs the underlying error and writes a generic 500,
// so every internal failure is visible in server logs without leaking
// internal details to the client.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, msg)
}

// recoveryMiddleware catches panics in downstream handlers, logs the stack
// trace, and returns a 500 instead of crashing the server.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				)
				writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS preflight requests and reflects allowed
// origins. A single "*" entry permits any origin.
func corsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	originSet := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		originSet[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || originSet[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-API-Key, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds standard hardening response headers.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// decodeJSON decodes a JSON request body into target, bounding body size
// and rejecting unknown fields so malformed clients fail fast.
func decodeJSON(r *http.Request, target any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
