package httpmiddleware

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RouteFinder resolves a request to its route pattern, such as
// "/api/orders/{number}".
type RouteFinder func(method string, u *url.URL) (string, bool)

// MakeRouteFinder resolves patterns against routes. It lets middleware that
// runs outside the router label requests by route instead of raw path.
func MakeRouteFinder(routes chi.Routes) RouteFinder {
	return func(method string, u *url.URL) (string, bool) {
		rctx := chi.NewRouteContext()
		if !routes.Match(rctx, method, u.Path) {
			return "", false
		}
		return rctx.RoutePattern(), true
	}
}

// Telemetry provides the OpenTelemetry providers used for instrumentation.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Instrument traces and measures every request, naming spans
// "<METHOD> <route>".
func Instrument(service string, find RouteFinder, t Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service,
			otelhttp.WithTracerProvider(t.TracerProvider()),
			otelhttp.WithMeterProvider(t.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				if route, ok := find(r.Method, r.URL); ok {
					return r.Method + " " + route
				}
				return operation
			}),
		)
	}
}

// Labeler adds the http.route attribute to the metrics recorded by
// Instrument. It must run inside Instrument.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if route, ok := find(r.Method, r.URL); ok {
				if l, ok := otelhttp.LabelerFromContext(r.Context()); ok {
					l.Add(attribute.String("http.route", route))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
