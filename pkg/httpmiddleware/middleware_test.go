package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testRouter() chi.Router {
	api := chi.NewRouter()
	api.Get("/orders/{number}", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Handling")
		_, _ = w.Write([]byte("ok"))
	})
	api.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	r := chi.NewRouter()
	r.Mount("/api", api)
	return r
}

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Wrap(okHandler(), mark("outer"), mark("inner")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestMakeRouteFinder(t *testing.T) {
	find := MakeRouteFinder(testRouter())

	route, ok := find(http.MethodGet, mustURL(t, "/api/orders/R123456789"))
	require.True(t, ok)
	assert.Equal(t, "/api/orders/{number}", route)

	_, ok = find(http.MethodPost, mustURL(t, "/api/orders/R123456789"))
	assert.False(t, ok)
	_, ok = find(http.MethodGet, mustURL(t, "/nope"))
	assert.False(t, ok)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	})

	t.Run("replaced", func(t *testing.T) {
		for _, id := range []string{"", "bad\nid", strings.Repeat("x", 129)} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, id)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Len(t, seen, 36)
			assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
		}
	})
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := testRouter()
	find := MakeRouteFinder(router)
	handler := Wrap(router,
		RequestID(),
		InjectLogger(zap.New(core)),
		Recovery(),
		LogRequests(find),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/R1", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "Handling", entries[0].Message)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])

	fields := entries[1].ContextMap()
	assert.Equal(t, "Request", entries[1].Message)
	assert.Equal(t, "/api/orders/{number}", fields["route"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.EqualValues(t, 2, fields["bytes"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := testRouter()
	handler := Wrap(router,
		InjectLogger(zap.New(core)),
		LogRequests(MakeRouteFinder(router)),
		Recovery(),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
	assert.JSONEq(t, `{"error":{"code":500,"message":"Internal Server Error"}}`, w.Body.String())

	panics := logs.FilterMessage("Panic in handler").AllUntimed()
	require.Len(t, panics, 1)
	assert.Equal(t, "boom", panics[0].ContextMap()["panic"])

	requests := logs.FilterMessage("Request").AllUntimed()
	require.Len(t, requests, 1)
	assert.Equal(t, zapcore.ErrorLevel, requests[0].Level)
}

type testTelemetry struct {
	tp *trace.TracerProvider
	mp *metric.MeterProvider
}

func (t testTelemetry) TracerProvider() oteltrace.TracerProvider { return t.tp }
func (t testTelemetry) MeterProvider() otelmetric.MeterProvider  { return t.mp }

func TestInstrument(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	reader := metric.NewManualReader()
	tel := testTelemetry{
		tp: trace.NewTracerProvider(trace.WithSpanProcessor(spans)),
		mp: metric.NewMeterProvider(metric.WithReader(reader)),
	}

	router := testRouter()
	find := MakeRouteFinder(router)
	handler := Wrap(router, Instrument("storefront-api", find, tel), Labeler(find))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders/R1", nil))

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /api/orders/{number}", ended[0].Name())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.True(t, hasRouteAttribute(rm, "/api/orders/{number}"), "http.route attribute recorded")
}

func hasRouteAttribute(rm metricdata.ResourceMetrics, route string) bool {
	want := attribute.String("http.route", route)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				continue
			}
			for _, dp := range h.DataPoints {
				if v, ok := dp.Attributes.Value(want.Key); ok && v == want.Value {
					return true
				}
			}
		}
	}
	return false
}

func mustURL(t *testing.T, path string) *url.URL {
	t.Helper()
	u, err := url.Parse(path)
	require.NoError(t, err)
	return u
}
