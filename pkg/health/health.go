// Package health serves liveness and readiness probes.
//
// Every check runs on its own ticker. A passing check turns unhealthy only
// after FailureThreshold consecutive failures and recovers after
// SuccessThreshold consecutive successes, so a single slow ping does not
// take the service out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc reports a problem with a dependency, or nil when it is fine.
type CheckFunc func(ctx context.Context) error

// CheckOptions tune a registered check. Zero fields take the defaults.
type CheckOptions struct {
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
}

const (
	defaultTimeout          = 5 * time.Second
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

func (o CheckOptions) withDefaults() CheckOptions {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = defaultFailureThreshold
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = defaultSuccessThreshold
	}
	return o
}

// check is one registered probe. streak is owned by the goroutine running
// the check; healthy and lastErr are read by HTTP handlers.
type check struct {
	name string
	fn   CheckFunc
	opts CheckOptions

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// streak counts consecutive results of the same kind: positive for
	// successes, negative for failures.
	streak int
}

func newCheck(name string, fn CheckFunc, opts CheckOptions) *check {
	c := &check{name: name, fn: fn, opts: opts.withDefaults()}
	c.healthy.Store(true)
	return c
}

// run executes the check once and reports whether its health flipped.
func (c *check) run(ctx context.Context) (changed bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	was := c.healthy.Load()
	if err != nil {
		c.streak = min(c.streak, 0) - 1
		if -c.streak >= c.opts.FailureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.streak = max(c.streak, 0) + 1
		if c.streak >= c.opts.SuccessThreshold {
			c.healthy.Store(true)
		}
	}
	return was != c.healthy.Load()
}

// problem describes why the check is unhealthy, or "" when it is healthy.
func (c *check) problem() string {
	if c.healthy.Load() {
		return ""
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

// Health holds the liveness and readiness checks of a service.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Health that is not ready until SetReady(true).
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// AddLivenessCheck registers a check of the process itself, such as
// goroutine count. A failing liveness check means the process should be
// restarted.
func (h *Health) AddLivenessCheck(name string, fn CheckFunc, opts CheckOptions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newCheck(name, fn, opts))
}

// AddReadinessCheck registers a check of a dependency the service needs to
// serve traffic, such as the database.
func (h *Health) AddReadinessCheck(name string, fn CheckFunc, opts CheckOptions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newCheck(name, fn, opts))
}

// Start runs every registered check now and then every interval until Stop
// is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Concat(h.liveness, h.readiness)
	h.mu.Unlock()

	for _, c := range checks {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.loop(ctx, c, interval)
		}()
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if c.run(ctx) {
			h.logChange(c)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Health) logChange(c *check) {
	if msg := c.problem(); msg != "" {
		h.lg.Warn("Health check failing", zap.String("check", c.name), zap.String("error", msg))
		return
	}
	h.lg.Info("Health check recovered", zap.String("check", c.name))
}

// Stop cancels the running checks and waits for them to return. It is safe
// to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// SetReady marks the service ready to take traffic. It is set to false at
// shutdown so load balancers drain the instance first.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(h.readinessChecks())) == 0
}

func (h *Health) livenessChecks() []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.liveness)
}

func (h *Health) readinessChecks() []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.readiness)
}

type failure struct {
	name    string
	message string
}

func (h *Health) failures(checks []*check) []failure {
	var out []failure
	for _, c := range checks {
		if msg := c.problem(); msg != "" {
			out = append(out, failure{name: c.name, message: msg})
		}
	}
	return out
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} while all liveness checks
// pass, otherwise 503 with the failing checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(h.livenessChecks()))
}

// ReadyEndpoint serves /readyz. Besides failing checks it reports 503 while
// the service is not marked ready.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(h.readinessChecks())
	if !h.ready.Load() {
		failures = append(failures, failure{name: "_readiness", message: "service is not ready"})
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures []failure) {
	status := http.StatusOK
	if len(failures) > 0 {
		status = http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) > 0 {
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, f := range failures {
			e.FieldStart(f.name)
			e.Str(f.message)
		}
		e.ObjEnd()
	} else {
		e.Str("ok")
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
