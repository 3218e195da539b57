package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

// toggle is a check whose result can be switched by the test.
type toggle struct {
	mu  sync.Mutex
	err error
}

func (t *toggle) set(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *toggle) check(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		w := serve(t, New(nil).LiveEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("checks start healthy", func(t *testing.T) {
		h := New(nil)
		h.AddLivenessCheck("goroutines", failing("leak"), CheckOptions{})
		w := serve(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("failure below threshold", func(t *testing.T) {
		h := New(nil)
		h.AddLivenessCheck("goroutines", failing("leak"), CheckOptions{})
		runN(h.liveness[0], 2)
		assert.Equal(t, http.StatusOK, serve(t, h.LiveEndpoint).Code)
	})

	t.Run("failure at threshold", func(t *testing.T) {
		h := New(nil)
		h.AddLivenessCheck("goroutines", failing("leak"), CheckOptions{})
		runN(h.liveness[0], 3)
		w := serve(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"goroutines":"leak"}}`, w.Body.String())
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("not marked ready", func(t *testing.T) {
		h := New(nil)
		w := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	})

	t.Run("ready and passing", func(t *testing.T) {
		h := New(nil)
		h.AddReadinessCheck("postgres", passing, CheckOptions{})
		h.SetReady(true)
		runN(h.readiness[0], 1)
		assert.Equal(t, http.StatusOK, serve(t, h.ReadyEndpoint).Code)
		assert.True(t, h.IsReady())
	})

	t.Run("one of several failing", func(t *testing.T) {
		h := New(nil)
		h.AddReadinessCheck("postgres", failing("connection refused"), CheckOptions{FailureThreshold: 1})
		h.AddReadinessCheck("cache", passing, CheckOptions{})
		h.SetReady(true)
		runN(h.readiness[0], 1)

		w := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"unhealthy","checks":{"postgres":"connection refused"}}`, w.Body.String())
		assert.False(t, h.IsReady())
	})

	t.Run("draining", func(t *testing.T) {
		h := New(nil)
		h.SetReady(true)
		require.True(t, h.IsReady())
		h.SetReady(false)
		assert.False(t, h.IsReady())
	})
}

func TestCheck_Recovery(t *testing.T) {
	tg := &toggle{err: errors.New("down")}
	c := newCheck("postgres", tg.check, CheckOptions{FailureThreshold: 2, SuccessThreshold: 2})

	assert.False(t, c.run(context.Background()))
	assert.True(t, c.run(context.Background()), "second failure flips")
	assert.Equal(t, "down", c.problem())

	tg.set(nil)
	assert.False(t, c.run(context.Background()), "one success is not enough")
	assert.True(t, c.run(context.Background()))
	assert.Empty(t, c.problem())

	// A failure in between resets the success streak.
	tg.set(errors.New("down"))
	runN(c, 2)
	tg.set(nil)
	runN(c, 1)
	tg.set(errors.New("down"))
	runN(c, 1)
	tg.set(nil)
	runN(c, 1)
	assert.NotEmpty(t, c.problem())
}

func TestCheck_Timeout(t *testing.T) {
	c := newCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, CheckOptions{Timeout: 10 * time.Millisecond, FailureThreshold: 1})

	assert.True(t, c.run(context.Background()))
	assert.Equal(t, context.DeadlineExceeded.Error(), c.problem())
}

func TestStartStop(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(zap.New(core))

	tg := &toggle{err: errors.New("down")}
	h.AddReadinessCheck("postgres", tg.check, CheckOptions{FailureThreshold: 1})
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	tg.set(nil)
	require.Eventually(t, h.IsReady, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()

	assert.Equal(t, 1, logs.FilterMessage("Health check failing").Len())
	assert.Equal(t, 1, logs.FilterMessage("Health check recovered").Len())
}

func TestConcurrentAccess(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("live", passing, CheckOptions{})
	h.AddReadinessCheck("ready", failing("flaky"), CheckOptions{})
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
				_ = h.IsReady()
			}
		}()
	}
	wg.Wait()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck("postgres", pinger{})(context.Background()))

	err := PingCheck("postgres", pinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Equal(t, "ping postgres: refused", err.Error())
}
