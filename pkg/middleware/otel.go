package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "docsync/http"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the instrumentation name of the tracer.
	// Default: "docsync/http".
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider.
	TracerProvider trace.TracerProvider

	// Propagator extracts the caller's trace context from request headers.
	// Default: the global propagator.
	Propagator propagation.TextMapPropagator

	// SkipPaths are request paths that are never traced.
	SkipPaths []string

	// Filter decides which requests to trace. Return false to skip.
	// If nil, every request not in SkipPaths is traced.
	Filter func(r *http.Request) bool
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithPropagator sets the propagator used to extract incoming trace context.
func WithPropagator(p propagation.TextMapPropagator) OTelOption {
	return func(c *OTelConfig) {
		c.Propagator = p
	}
}

// WithSkipPaths excludes paths from tracing, typically health and metrics
// endpoints.
func WithSkipPaths(paths ...string) OTelOption {
	return func(c *OTelConfig) {
		c.SkipPaths = append(c.SkipPaths, paths...)
	}
}

// WithFilter sets a filter function for requests.
func WithFilter(filter func(r *http.Request) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry returns middleware that starts a server span for each
// request. The span is named after the chi route pattern once routing has
// happened, and 5xx responses mark it as failed.
//
// With nil providers the globals are resolved per request, so a provider
// installed after the router is built is still used.
func OpenTelemetry(opts ...OTelOption) func(http.Handler) http.Handler {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(config.SkipPaths, r.URL.Path) ||
				(config.Filter != nil && !config.Filter(r)) {
				next.ServeHTTP(w, r)
				return
			}

			tp := config.TracerProvider
			if tp == nil {
				tp = otel.GetTracerProvider()
			}
			prop := config.Propagator
			if prop == nil {
				prop = otel.GetTextMapPropagator()
			}

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tp.Tracer(config.TracerName).Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("client.address", r.RemoteAddr),
				),
			)
			defer span.End()

			if id := chimiddleware.GetReqID(r.Context()); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
			if documentID := chi.URLParam(r, "documentID"); documentID != "" {
				span.SetAttributes(attribute.String("docsync.document_id", documentID))
			}

			status := ww.Status()
			if status == 0 && isUpgrade(r) {
				status = http.StatusSwitchingProtocols
			}
			if status != 0 {
				span.SetAttributes(attribute.Int("http.response.status_code", status))
			}
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}
