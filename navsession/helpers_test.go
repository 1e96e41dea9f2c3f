package navsession

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/navbridge/pathconfig"
	"github.com/hazyhaar/navbridge/protocol"
	"github.com/hazyhaar/navbridge/visit"
)

type fakeBridge struct {
	mu        sync.Mutex
	calls     []string
	installed []func()
}

func (b *fakeBridge) record(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *fakeBridge) LoadLocation(location string) { b.record("load %s", location) }
func (b *fakeBridge) Reload()                      { b.record("reload") }
func (b *fakeBridge) Navigate(location string, opts visit.Options, rid string) {
	b.record("navigate %s %s %q", location, opts.Action, rid)
}
func (b *fakeBridge) RenderColdBoot(id string) { b.record("render_cold_boot %s", id) }

func (b *fakeBridge) InstallBridge(onInstalled func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "install")
	b.installed = append(b.installed, onInstalled)
}

func (b *fakeBridge) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// runInstalled completes every pending bridge installation.
func (b *fakeBridge) runInstalled() {
	b.mu.Lock()
	fns := b.installed
	b.installed = nil
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// visualBridge acknowledges visual state callbacks when told to.
type visualBridge struct {
	fakeBridge
	vmu     sync.Mutex
	pending []func()
}

func (b *visualBridge) PostVisualStateCallback(id int64, done func(int64)) {
	b.vmu.Lock()
	defer b.vmu.Unlock()
	b.pending = append(b.pending, func() { done(id) })
}

func (b *visualBridge) flushFrames() {
	b.vmu.Lock()
	fns := b.pending
	b.pending = nil
	b.vmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
	props  []pathconfig.Properties
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) VisitStarted(location string) { r.add("started %s", location) }
func (r *recorder) VisitProposed(location string, opts visit.Options, props pathconfig.Properties) {
	r.add("proposed %s %s", location, opts.Action)
	r.mu.Lock()
	r.props = append(r.props, props)
	r.mu.Unlock()
}
func (r *recorder) RequestFailed(code int)       { r.add("request_failed %d", code) }
func (r *recorder) Rendered()                    { r.add("rendered") }
func (r *recorder) Completed()                   { r.add("completed") }
func (r *recorder) Invalidated()                 { r.add("invalidated") }
func (r *recorder) PageStarted(location string)  { r.add("page_started %s", location) }
func (r *recorder) PageFinished(location string) { r.add("page_finished %s", location) }
func (r *recorder) LoadError(code int)           { r.add("load_error %d", code) }

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	s       *Session
	bridge  Bridge
	fake    *fakeBridge
	cb      *recorder
	clock   *fakeClock
	reg     *prometheus.Registry
	metrics *Metrics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, b Bridge) *harness {
	t.Helper()
	h := &harness{
		bridge: b,
		cb:     &recorder{},
		clock:  &fakeClock{t: time.Unix(1_700_000_000, 0)},
		reg:    prometheus.NewRegistry(),
	}
	switch fb := b.(type) {
	case *fakeBridge:
		h.fake = fb
	case *visualBridge:
		h.fake = &fb.fakeBridge
	}
	h.metrics = NewMetrics(h.reg)
	s, err := New(Config{
		Name:         "test",
		RootLocation: "https://x/",
		Bridge:       b,
		Callback:     h.cb,
		Metrics:      h.metrics,
		Logger:       discardLogger(),
		Now:          h.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	h.s = s
	return h
}

// events waits for dispatched callbacks and returns what was recorded.
func (h *harness) events() []string {
	h.s.Sync()
	return h.cb.Events()
}

// ready drives the session through a cold boot of location until Ready and
// clears everything recorded so far.
func (h *harness) ready(t *testing.T, location string) {
	t.Helper()
	h.s.RequestVisit(Visit{Location: location, Options: visit.DefaultOptions(), Destination: 1})
	h.s.Interceptor().PageStarted(location)
	h.s.Interceptor().PageFinished(location)
	h.fake.runInstalled()
	h.s.Handle(readiness(true))
	if got := h.s.State(); got != Ready {
		t.Fatalf("state after cold boot: got %s, want ready", got)
	}
	h.s.Sync()
	h.cb.Reset()
	h.fake.mu.Lock()
	h.fake.calls = nil
	h.fake.mu.Unlock()
}

func readiness(ready bool) protocol.ReadinessChanged {
	return protocol.ReadinessChanged{IsReady: ready}
}
