package navsession

import (
	"slices"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hazyhaar/navbridge/pathconfig"
	"github.com/hazyhaar/navbridge/protocol"
	"github.com/hazyhaar/navbridge/visit"
)

func advance(location string, dest int) Visit {
	return Visit{Location: location, Options: visit.DefaultOptions(), Destination: dest}
}

func restore(location string, dest int) Visit {
	return Visit{Location: location, Options: visit.Options{Action: visit.ActionRestore}, Destination: dest}
}

func TestNewRequiresBridge(t *testing.T) {
	if _, err := New(Config{Logger: discardLogger()}); err == nil {
		t.Fatal("expected error without bridge")
	}
}

func TestColdBootLoadsLocation(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)

	h.s.RequestVisit(advance("https://x/a", 1))

	if got, want := b.Calls(), []string{"load https://x/a"}; !slices.Equal(got, want) {
		t.Errorf("bridge calls: got %v, want %v", got, want)
	}
	if got, want := h.events(), []string{"started https://x/a"}; !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
	if !h.s.IsColdBooting() || h.s.IsReady() {
		t.Errorf("state: got %s, want cold_booting", h.s.State())
	}
	if got := testutil.ToFloat64(h.metrics.Visits.WithLabelValues("cold_boot")); got != 1 {
		t.Errorf("cold_boot visits: got %v, want 1", got)
	}
}

func TestColdBootCompletesOnReadiness(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)

	h.s.RequestVisit(advance("https://x/a", 1))
	h.s.Interceptor().PageStarted("https://x/a")
	h.s.Interceptor().PageFinished("https://x/a")
	b.runInstalled()
	h.s.Handle(readiness(true))

	id := LocationIdentity("https://x/a")
	if got := h.s.ColdBootIdentifier(); got != id {
		t.Errorf("cold boot id: got %q, want %q", got, id)
	}
	wantCalls := []string{"load https://x/a", "install", "render_cold_boot " + id}
	if got := b.Calls(); !slices.Equal(got, wantCalls) {
		t.Errorf("bridge calls: got %v, want %v", got, wantCalls)
	}
	wantEvents := []string{
		"started https://x/a",
		"page_started https://x/a",
		"page_finished https://x/a",
		"completed",
	}
	if got := h.events(); !slices.Equal(got, wantEvents) {
		t.Errorf("events: got %v, want %v", got, wantEvents)
	}
	if !h.s.IsReady() {
		t.Errorf("state: got %s, want ready", h.s.State())
	}
}

func TestPendingVisitDuringColdBoot(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)

	h.s.RequestVisit(advance("https://x/a", 1))
	h.s.RequestVisit(advance("https://x/b", 1))

	if got, want := b.Calls(), []string{"load https://x/a"}; !slices.Equal(got, want) {
		t.Fatalf("bridge calls while cold booting: got %v, want %v", got, want)
	}
	if !h.s.HasPendingVisit() {
		t.Fatal("expected a pending visit")
	}
	if got := h.s.State(); got != ColdBootingWithPendingVisit {
		t.Fatalf("state: got %s, want cold_booting_pending", got)
	}

	h.s.Handle(readiness(true))

	want := []string{"load https://x/a", `navigate https://x/b advance ""`}
	if got := b.Calls(); !slices.Equal(got, want) {
		t.Errorf("bridge calls: got %v, want %v", got, want)
	}
	if h.s.HasPendingVisit() {
		t.Error("pending visit not consumed")
	}
	if !h.s.IsReady() {
		t.Errorf("state: got %s, want ready", h.s.State())
	}
	if got := testutil.ToFloat64(h.metrics.Visits.WithLabelValues("pending")); got != 1 {
		t.Errorf("pending visits: got %v, want 1", got)
	}
}

func TestReadinessFalseResetsAndFails(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 1))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1", Location: "https://x/b"})
	h.s.Handle(readiness(false))

	if h.s.IsReady() || h.s.IsColdBooting() {
		t.Errorf("state: got %s, want not_ready", h.s.State())
	}
	want := []string{"started https://x/b", "request_failed 500"}
	if got := h.events(); !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
	if got := testutil.ToFloat64(h.metrics.Failures.WithLabelValues("runtime_init")); got != 1 {
		t.Errorf("runtime_init failures: got %v, want 1", got)
	}
}

func TestRuntimeFailedToLoad(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.s.RequestVisit(advance("https://x/a", 1))
	h.s.Handle(protocol.RuntimeFailedToLoad{})

	if got := h.s.State(); got != NotReady {
		t.Errorf("state: got %s, want not_ready", got)
	}
	want := []string{"started https://x/a", "load_error -1"}
	if got := h.events(); !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
}

func TestReadyVisitNavigates(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.ready(t, "https://x/a")

	h.s.RequestVisit(Visit{
		Location:    "https://x/b",
		Options:     visit.Options{Action: visit.ActionReplace},
		Destination: 1,
	})

	want := []string{`navigate https://x/b advance ""`}
	if got := b.Calls(); !slices.Equal(got, want) {
		t.Errorf("bridge calls: got %v, want %v", got, want)
	}
	if got := testutil.ToFloat64(h.metrics.Visits.WithLabelValues("ready")); got != 1 {
		t.Errorf("ready visits: got %v, want 1", got)
	}
}

func TestReadyVisitWithoutTokenAdvances(t *testing.T) {
	tests := []struct {
		name   string
		action visit.Action
		stored string
		want   string
	}{
		{name: "advance", action: visit.ActionAdvance, want: `navigate https://x/b advance ""`},
		{name: "replace", action: visit.ActionReplace, want: `navigate https://x/b advance ""`},
		{name: "replace ignores stored token", action: visit.ActionReplace, stored: "r5", want: `navigate https://x/b advance ""`},
		{name: "restore", action: visit.ActionRestore, want: `navigate https://x/b advance ""`},
		{name: "restore with token", action: visit.ActionRestore, stored: "r5", want: `navigate https://x/b restore "r5"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBridge{}
			h := newHarness(t, b)
			h.ready(t, "https://x/a")
			if tt.stored != "" {
				h.s.restoration.Put(5, tt.stored)
			}

			h.s.RequestVisit(Visit{
				Location:    "https://x/b",
				Options:     visit.Options{Action: tt.action},
				Destination: 5,
			})

			if got := b.Calls(); !slices.Equal(got, []string{tt.want}) {
				t.Errorf("bridge calls: got %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestRestoreWithoutTokenDegradesToAdvance(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.ready(t, "https://x/a")

	if got := h.s.RestorationIdentifier(9); got != "" {
		t.Fatalf("restoration id before put: got %q, want empty", got)
	}
	h.s.RequestVisit(restore("https://x/b", 9))

	want := []string{`navigate https://x/b advance ""`}
	if got := b.Calls(); !slices.Equal(got, want) {
		t.Errorf("bridge calls: got %v, want %v", got, want)
	}
	v, _ := h.s.CurrentVisit()
	if v.Options.Action != visit.ActionRestore {
		t.Errorf("current visit options changed: got %s", v.Options.Action)
	}
}

func TestRestoreUsesStoredToken(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 2))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitCompleted{VisitIdentifier: "v1", RestorationIdentifier: "r-b"})
	h.s.RequestVisit(restore("https://x/b", 2))

	want := []string{`navigate https://x/b advance ""`, `navigate https://x/b restore "r-b"`}
	if got := b.Calls(); !slices.Equal(got, want) {
		t.Errorf("bridge calls: got %v, want %v", got, want)
	}
}

func TestPageLoadedStoresUnderCurrentDestination(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 4))
	h.s.Handle(protocol.PageLoaded{RestorationIdentifier: "r1"})
	h.s.Handle(protocol.PageLoaded{RestorationIdentifier: "r2"})

	if got := h.s.RestorationIdentifier(4); got != "r2" {
		t.Errorf("restoration id: got %q, want r2", got)
	}
}

func TestStaleMessagesAreDropped(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 1))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})

	for _, msg := range []protocol.Message{
		protocol.VisitRequestFailed{VisitIdentifier: "old", StatusCode: 404},
		protocol.VisitRendered{VisitIdentifier: "old"},
		protocol.VisitCompleted{VisitIdentifier: "old", RestorationIdentifier: "r"},
		protocol.VisitRequestFailed{VisitIdentifier: "", StatusCode: 404},
		protocol.VisitCompleted{VisitIdentifier: ""},
	} {
		h.s.Handle(msg)
	}

	if got, want := h.events(), []string{"started https://x/b"}; !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
	if got := h.s.RestorationIdentifier(1); got != "" {
		t.Errorf("stale completion stored restoration id %q", got)
	}
	if got := testutil.ToFloat64(h.metrics.Stale.WithLabelValues("visitCompleted")); got != 2 {
		t.Errorf("stale visitCompleted: got %v, want 2", got)
	}
}

func TestRequestProgressIsLogOnly(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 1))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	calls := len(b.Calls())
	h.s.Handle(protocol.VisitRequestCompleted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitRequestFinished{VisitIdentifier: "old"})

	if got, want := h.events(), []string{"started https://x/b"}; !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
	if got := len(b.Calls()); got != calls {
		t.Errorf("bridge calls: got %d, want %d", got, calls)
	}
	if got := testutil.ToFloat64(h.metrics.Messages.WithLabelValues("visitRequestFinished")); got != 1 {
		t.Errorf("visitRequestFinished messages: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.Stale.WithLabelValues("visitRequestFinished")); got != 0 {
		t.Errorf("progress messages are never stale: got %v", got)
	}
}

func TestMatchingMessagesReachCallback(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 1))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitRequestFailed{VisitIdentifier: "v1", StatusCode: 422})
	h.s.Handle(protocol.VisitRendered{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitRendered{VisitIdentifier: LocationIdentity("https://x/a")})
	h.s.Handle(protocol.VisitCompleted{VisitIdentifier: "v1", RestorationIdentifier: "r1"})

	want := []string{"started https://x/b", "request_failed 422", "rendered", "rendered", "completed"}
	if got := h.events(); !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
	if got := h.s.RestorationIdentifier(1); got != "r1" {
		t.Errorf("restoration id: got %q, want r1", got)
	}
}

func TestResetUnmatchesIdentifiers(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 1))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitCompleted{VisitIdentifier: "v1", RestorationIdentifier: "r1"})
	before := h.events()

	h.s.Reset()
	h.s.Handle(protocol.VisitCompleted{VisitIdentifier: "v1", RestorationIdentifier: "r1"})
	h.s.Handle(protocol.VisitRendered{VisitIdentifier: LocationIdentity("https://x/a")})

	if got := h.events(); !slices.Equal(got, before) {
		t.Errorf("events after reset: got %v, want %v", got, before)
	}
	if got := h.s.State(); got != NotReady {
		t.Errorf("state: got %s, want not_ready", got)
	}
	if got := h.s.RestorationIdentifier(1); got != "" {
		t.Errorf("restoration registry survived reset: %q", got)
	}
	if got := h.s.ColdBootIdentifier(); got != "" {
		t.Errorf("cold boot id survived reset: %q", got)
	}
	if got := h.s.RootLocation(); got != "https://x/" {
		t.Errorf("root location: got %q", got)
	}
}

func TestResetBeforeFirstVisit(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.s.Reset()
	h.s.Reset()
	if got := h.s.State(); got != NotReady {
		t.Errorf("state: got %s, want not_ready", got)
	}
	if len(h.events()) != 0 {
		t.Error("reset produced events")
	}
}

func TestPageInvalidatedReloads(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.ready(t, "https://x/a")

	h.s.RequestVisit(restore("https://x/b", 7))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.PageInvalidated{})

	v, ok := h.s.CurrentVisit()
	if !ok {
		t.Fatal("no current visit")
	}
	if v.Location != "https://x/b" || v.Destination != 7 || v.Options.Action != visit.ActionRestore || !v.Reload {
		t.Errorf("reload visit: got %+v", v)
	}
	if v.Identifier != "" {
		t.Errorf("reload visit kept identifier %q", v.Identifier)
	}
	wantCalls := []string{`navigate https://x/b advance ""`, "reload"}
	if got := b.Calls(); !slices.Equal(got, wantCalls) {
		t.Errorf("bridge calls: got %v, want %v", got, wantCalls)
	}
	wantEvents := []string{"started https://x/b", "invalidated", "started https://x/b"}
	if got := h.events(); !slices.Equal(got, wantEvents) {
		t.Errorf("events: got %v, want %v", got, wantEvents)
	}
	if !h.s.IsColdBooting() {
		t.Errorf("state: got %s, want cold_booting", h.s.State())
	}
}

func TestVisualStateAcknowledgment(t *testing.T) {
	b := &visualBridge{}
	h := newHarness(t, b)
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 1))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitRendered{VisitIdentifier: "v1"})

	if got := h.events(); slices.Contains(got, "rendered") {
		t.Fatalf("rendered before acknowledgment: %v", got)
	}
	b.flushFrames()
	if got := h.events(); !slices.Contains(got, "rendered") {
		t.Errorf("rendered missing after acknowledgment: %v", got)
	}
}

func TestVisualStateSupersededVisit(t *testing.T) {
	b := &visualBridge{}
	h := newHarness(t, b)
	h.ready(t, "https://x/a")

	h.s.RequestVisit(advance("https://x/b", 1))
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitRendered{VisitIdentifier: "v1"})
	h.s.RequestVisit(advance("https://x/c", 1))
	b.flushFrames()

	if got := h.events(); slices.Contains(got, "rendered") {
		t.Errorf("rendered delivered for superseded visit: %v", got)
	}
}

type staticPaths pathconfig.Properties

func (p staticPaths) Properties(string) pathconfig.Properties { return pathconfig.Properties(p) }

func TestVisitProposed(t *testing.T) {
	cb := &recorder{}
	s, err := New(Config{
		Bridge:   &fakeBridge{},
		Callback: cb,
		Paths:    staticPaths{"presentation": "modal"},
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Handle(protocol.VisitProposed{Location: "https://x/new", Options: []byte(`{"action":"replace","extra":1}`)})
	s.Handle(protocol.VisitProposed{Location: "https://x/bad", Options: []byte(`{"action":`)})
	s.Sync()

	if got, want := cb.Events(), []string{"proposed https://x/new replace"}; !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
	if got := cb.props[0].String("presentation"); got != "modal" {
		t.Errorf("properties: got %q, want modal", got)
	}
}

func TestHandlePayload(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.ready(t, "https://x/a")
	h.s.RequestVisit(advance("https://x/b", 1))

	h.s.HandlePayload([]byte(`{"name":"visitStarted","data":{"visitIdentifier":"v9"}}`))
	h.s.HandlePayload([]byte(`{"name":"visitCompleted","data":{"visitIdentifier":"v9","restorationIdentifier":"r9"}}`))
	h.s.HandlePayload([]byte(`not json`))
	h.s.HandlePayload([]byte(`{"name":"nope"}`))

	want := []string{"started https://x/b", "completed"}
	if got := h.events(); !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
	if got := testutil.ToFloat64(h.metrics.Failures.WithLabelValues("malformed")); got != 2 {
		t.Errorf("malformed: got %v, want 2", got)
	}
}

func TestPerVisitCallback(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.ready(t, "https://x/a")

	own := &recorder{}
	v := advance("https://x/b", 1)
	v.Callback = own
	h.s.RequestVisit(v)
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitCompleted{VisitIdentifier: "v1"})

	if got := h.events(); len(got) != 0 {
		t.Errorf("session callback got %v", got)
	}
	if got, want := own.Events(), []string{"started https://x/b", "completed"}; !slices.Equal(got, want) {
		t.Errorf("visit callback: got %v, want %v", got, want)
	}
}

// reentrant requests a new visit from inside the completion callback.
type reentrant struct {
	recorder
	s    *Session
	once sync.Once
}

func (r *reentrant) Completed() {
	r.recorder.Completed()
	r.once.Do(func() { r.s.RequestVisit(advance("https://x/next", 1)) })
}

func TestCallbackMayRequestVisit(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.ready(t, "https://x/a")

	cb := &reentrant{s: h.s}
	v := advance("https://x/b", 1)
	v.Callback = cb
	h.s.RequestVisit(v)
	h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v1"})
	h.s.Handle(protocol.VisitCompleted{VisitIdentifier: "v1"})
	h.s.Sync()
	h.s.Sync()

	want := []string{`navigate https://x/b advance ""`, `navigate https://x/next advance ""`}
	if got := b.Calls(); !slices.Equal(got, want) {
		t.Errorf("bridge calls: got %v, want %v", got, want)
	}
}

func TestConcurrentEntryPoints(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.ready(t, "https://x/a")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				h.s.RequestVisit(advance("https://x/b", i))
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				h.s.Handle(protocol.VisitStarted{VisitIdentifier: "v"})
				h.s.Handle(protocol.VisitCompleted{VisitIdentifier: "v", RestorationIdentifier: "r"})
				h.s.Interceptor().ShouldOverride("https://x/c")
			}
		}()
	}
	wg.Wait()
	h.s.Sync()

	if !h.s.IsReady() {
		t.Errorf("state: got %s, want ready", h.s.State())
	}
}
