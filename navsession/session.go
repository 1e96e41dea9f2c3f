// Package navsession coordinates navigation visits between a host and the
// client-side navigation runtime running inside a web view.
//
// A Session owns the visit lifecycle. It takes requests from the host
// (RequestVisit, Reset), protocol messages from the runtime (Handle,
// HandlePayload) and native page events through its Interceptor, and turns
// them into Bridge calls and Callback events.
//
// All entry points are safe for concurrent use: state is guarded by one
// mutex, Bridge calls are issued under it and host callbacks are handed to
// the Dispatcher after it is released.
package navsession

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/navbridge/internal/idgen"
	"github.com/hazyhaar/navbridge/visit"
)

// RuntimeInitFailedCode is reported through RequestFailed when the runtime
// announces it could not initialise.
const RuntimeInitFailedCode = 500

// UnknownErrorCode is reported when a failure carries no numeric code.
const UnknownErrorCode = -1

// Config configures a Session.
type Config struct {
	// Name identifies the session in logs. Default: generated.
	Name string
	// RootLocation is the host's start location. It survives Reset.
	RootLocation string
	Bridge       Bridge
	// Paths resolves the properties attached to proposed visits.
	Paths PropertyResolver
	// Callback receives events when no visit is current or the current
	// visit has no callback of its own.
	Callback Callback
	// Dispatcher is the host callback thread. Default: a Loop owned and
	// closed by the Session.
	Dispatcher Dispatcher
	// InterceptWindow is the throttle applied to native navigation
	// intercepts. Default: 500ms.
	InterceptWindow time.Duration
	Metrics         *Metrics
	Logger          *slog.Logger
	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Session is the visit coordinator.
type Session struct {
	name     string
	root     string
	bridge   Bridge
	paths    PropertyResolver
	fallback Callback
	loop     Dispatcher
	ownLoop  *Loop
	metrics  *Metrics
	logger   *slog.Logger

	interceptor *Interceptor

	mu            sync.Mutex
	state         State
	current       *Visit
	pending       *Visit
	coldBootID    string
	lastIntercept time.Time
	restoration   *visit.Registry
}

// New creates a Session in the NotReady state.
func New(cfg Config) (*Session, error) {
	if cfg.Bridge == nil {
		return nil, errors.New("navsession: bridge is required")
	}
	if cfg.Name == "" {
		cfg.Name = idgen.Prefixed("sess_", idgen.Default)()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.InterceptWindow <= 0 {
		cfg.InterceptWindow = 500 * time.Millisecond
	}
	logger := cfg.Logger.With("session", cfg.Name)

	s := &Session{
		name:        cfg.Name,
		root:        cfg.RootLocation,
		bridge:      cfg.Bridge,
		paths:       cfg.Paths,
		fallback:    cfg.Callback,
		loop:        cfg.Dispatcher,
		metrics:     cfg.Metrics,
		logger:      logger,
		restoration: visit.NewRegistry(),
	}
	if s.loop == nil {
		s.ownLoop = NewLoop(logger)
		s.loop = s.ownLoop
	}
	s.interceptor = newInterceptor(s, cfg.InterceptWindow, cfg.Now, cfg.Metrics, logger)

	logger.Info("navsession: created", "root", cfg.RootLocation)
	return s, nil
}

// Close stops the callback loop if the Session owns it. Callbacks already
// queued still run.
func (s *Session) Close() {
	if s.ownLoop != nil {
		s.ownLoop.Close()
	}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// RootLocation returns the configured start location.
func (s *Session) RootLocation() string { return s.root }

// Interceptor returns the component native page events are fed to.
func (s *Session) Interceptor() *Interceptor { return s.interceptor }

// Sync waits until every callback dispatched so far has run. It only waits
// when the Session owns its Dispatcher.
func (s *Session) Sync() {
	if s.ownLoop != nil {
		s.ownLoop.Sync()
	}
}

// State returns the coordinator state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsReady reports whether in-page navigation is available.
func (s *Session) IsReady() bool { return s.State() == Ready }

// IsColdBooting reports whether a full native load is in progress.
func (s *Session) IsColdBooting() bool { return s.State().coldBooting() }

// HasPendingVisit reports whether a visit waits for the cold boot to end.
func (s *Session) HasPendingVisit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// ColdBootIdentifier returns the identity of the natively loaded document.
func (s *Session) ColdBootIdentifier() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coldBootID
}

// CurrentVisit returns a copy of the current visit.
func (s *Session) CurrentVisit() (Visit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Visit{}, false
	}
	return *s.current, true
}

// RestorationIdentifier returns the token stored for dest, or "".
func (s *Session) RestorationIdentifier(dest int) string {
	return s.restoration.Get(dest)
}

// RequestVisit makes v the current visit. VisitStarted is dispatched before
// anything else happens; the rest of the outcome is only observable through
// callbacks.
func (s *Session) RequestVisit(v Visit) {
	v.Identifier = ""
	if target := s.targetOf(&v); target != nil {
		loc := v.Location
		s.loop.Dispatch(func() { target.VisitStarted(loc) })
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestVisitLocked(&v)
}

func (s *Session) requestVisitLocked(v *Visit) {
	s.current = v
	if v.Reload {
		s.resetLocked()
	}

	s.logger.Info("navsession: visit requested",
		"location", v.Location, "action", v.Options.Action,
		"destination", v.Destination, "reload", v.Reload, "state", s.state)

	switch {
	case s.state.coldBooting():
		s.pending = s.current
		s.state = ColdBootingWithPendingVisit
		s.metrics.visit("pending")
	case s.state == Ready:
		s.navigateLocked(s.current)
		s.metrics.visit("ready")
	default:
		s.coldBootLocked(s.current)
		s.metrics.visit("cold_boot")
	}
}

// Reset forgets every identifier, the pending visit and all restoration
// tokens, and returns to NotReady. It does nothing before the first visit.
// In-flight bridge work is not cancelled; its messages simply stop matching.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Invalidate re-requests the current visit as a full reload. The runtime
// calls it, through PageInvalidated, when it cannot safely continue on the
// current document.
func (s *Session) Invalidate() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		s.logger.Debug("navsession: invalidation without a visit")
		return
	}
	// The reload is issued in the same critical section so a visit requested
	// concurrently is never overwritten by the invalidated one.
	v := s.current.WithReload()
	var fx effects
	s.notifyLocked(&fx, func(cb Callback) { cb.Invalidated() })
	if target := s.targetOf(&v); target != nil {
		loc := v.Location
		fx = append(fx, func() { target.VisitStarted(loc) })
	}
	s.requestVisitLocked(&v)
	s.mu.Unlock()

	s.flush(fx)
}

// RenderComplete handles the runtime reporting visitID on screen. When the
// bridge can acknowledge visual state, Rendered waits for that
// acknowledgment and is dropped if another visit took over meanwhile.
func (s *Session) RenderComplete(visitID string) {
	var fx effects
	s.mu.Lock()
	s.renderCompleteLocked(&fx, visitID)
	s.mu.Unlock()
	s.flush(fx)
}

func (s *Session) resetLocked() {
	if s.current == nil {
		return
	}
	s.logger.Info("navsession: reset", "state", s.state)
	s.current.Identifier = ""
	s.coldBootID = ""
	s.pending = nil
	s.state = NotReady
	s.lastIntercept = time.Time{}
	s.restoration.Clear()
}

func (s *Session) navigateLocked(v *Visit) {
	var token string
	opts := v.Options
	if opts.Action == visit.ActionRestore {
		token = s.restoration.Get(v.Destination)
	}
	// Without a token the runtime can only push a fresh entry.
	if token == "" {
		opts = opts.WithAction(visit.ActionAdvance)
	}
	s.state = Ready
	s.logger.Info("navsession: navigate",
		"location", v.Location, "action", opts.Action, "restoration_id", token)
	s.bridge.Navigate(v.Location, opts, token)
}

func (s *Session) coldBootLocked(v *Visit) {
	s.state = ColdBooting
	s.logger.Info("navsession: cold boot", "location", v.Location, "reload", v.Reload)
	if v.Reload {
		s.bridge.Reload()
		return
	}
	s.bridge.LoadLocation(v.Location)
}

func (s *Session) renderCompleteLocked(fx *effects, visitID string) {
	n, ok := s.bridge.(VisualStateNotifier)
	if !ok {
		s.notifyLocked(fx, func(cb Callback) { cb.Rendered() })
		return
	}
	req := RequestID(visitID)
	n.PostVisualStateCallback(req, func(got int64) {
		s.visualStateComplete(visitID, req, got)
	})
}

func (s *Session) visualStateComplete(visitID string, want, got int64) {
	var fx effects
	s.mu.Lock()
	if got == want && s.matchesEitherLocked(visitID) {
		s.notifyLocked(&fx, func(cb Callback) { cb.Rendered() })
	} else {
		s.logger.Debug("navsession: visual state acknowledged for a superseded visit", "visit_id", visitID)
	}
	s.mu.Unlock()
	s.flush(fx)
}

func (s *Session) matchesCurrentLocked(id string) bool {
	return id != "" && s.current != nil && id == s.current.Identifier
}

func (s *Session) matchesEitherLocked(id string) bool {
	return s.matchesCurrentLocked(id) || (id != "" && id == s.coldBootID)
}

// effects collects host notifications produced under s.mu; they are
// dispatched once the lock is released.
type effects []func()

func (s *Session) targetOf(v *Visit) Callback {
	if v != nil && v.Callback != nil {
		return v.Callback
	}
	return s.fallback
}

func (s *Session) notifyLocked(fx *effects, fn func(Callback)) {
	target := s.targetOf(s.current)
	if target == nil {
		s.logger.Debug("navsession: no callback for event")
		return
	}
	*fx = append(*fx, func() { fn(target) })
}

func (s *Session) flush(fx effects) {
	for _, f := range fx {
		s.loop.Dispatch(f)
	}
}

// LocationIdentity is the identity recorded for a natively loaded document.
// Runtimes echo it back as the cold-boot visit identifier.
func LocationIdentity(location string) string {
	h := fnv.New32a()
	h.Write([]byte(location))
	return strconv.FormatUint(uint64(h.Sum32()), 10)
}

// RequestID derives the visual-state request id of a visit identifier.
func RequestID(visitID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(visitID))
	return int64(h.Sum64())
}
