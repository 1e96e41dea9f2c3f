package navsession

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/navbridge/protocol"
	"github.com/hazyhaar/navbridge/visit"
)

// coordinator is the part of the Session the Interceptor drives.
type coordinator interface {
	Handle(msg protocol.Message)
	loadStarted(location string)
	loadFinished(location, identity string) bool
	swapInterceptTime(now time.Time) (prev time.Time, ready bool)
	loadFailed(reason string, code int)
}

// NativeError describes a load failure reported by the web view.
type NativeError struct {
	MainFrame bool
	// Code is only meaningful when HasCode is set.
	Code        int
	HasCode     bool
	Description string
	Location    string
}

// Interceptor turns native web view events into session transitions. It
// holds no state of its own beyond its configuration; the throttle
// timestamp and cold-boot identity live in the Session and are cleared by
// Reset.
type Interceptor struct {
	coord   coordinator
	window  time.Duration
	now     func() time.Time
	metrics *Metrics
	logger  *slog.Logger
}

func newInterceptor(c coordinator, window time.Duration, now func() time.Time, m *Metrics, logger *slog.Logger) *Interceptor {
	return &Interceptor{coord: c, window: window, now: now, metrics: m, logger: logger}
}

// PageStarted records the start of a native load. Any cold-boot identity is
// forgotten.
func (i *Interceptor) PageStarted(location string) {
	i.logger.Debug("navsession: page started", "location", location)
	i.coord.loadStarted(location)
}

// PageFinished records the end of a native load and installs the bridge.
// A second delivery for the same document is ignored. It reports whether
// the bridge install was triggered.
func (i *Interceptor) PageFinished(location string) bool {
	id := LocationIdentity(location)
	if !i.coord.loadFinished(location, id) {
		i.logger.Debug("navsession: duplicate page finished", "location", location)
		return false
	}
	i.logger.Info("navsession: page finished", "location", location, "identity", id)
	return true
}

// ShouldOverride decides whether a user-initiated native navigation is
// taken over. While the session is not ready the web view keeps it. Once
// ready every navigation is taken over, and a proposal is raised for it
// unless another intercept happened within the throttle window.
func (i *Interceptor) ShouldOverride(location string) bool {
	now := i.now()
	prev, ready := i.coord.swapInterceptTime(now)
	if !ready {
		i.metrics.intercept("passthrough")
		return false
	}
	if now.Sub(prev) <= i.window {
		i.logger.Debug("navsession: intercept throttled", "location", location)
		i.metrics.intercept("throttled")
		return true
	}

	i.logger.Info("navsession: intercept", "location", location)
	i.metrics.intercept("proposed")
	i.coord.Handle(protocol.VisitProposed{
		Location: location,
		Options:  visit.DefaultOptions().JSON(),
	})
	return true
}

// ReceivedError handles a generic load error. Sub-resource failures are
// ignored.
func (i *Interceptor) ReceivedError(e NativeError) {
	if !e.MainFrame {
		return
	}
	code := UnknownErrorCode
	if e.HasCode {
		code = e.Code
	}
	i.logger.Warn("navsession: load error",
		"location", e.Location, "code", code, "description", e.Description)
	i.coord.loadFailed("load", code)
}

// ReceivedHTTPError handles an HTTP error status for a document request.
func (i *Interceptor) ReceivedHTTPError(location string, mainFrame bool, status int) {
	if !mainFrame {
		return
	}
	i.logger.Warn("navsession: http error", "location", location, "status", status)
	i.coord.loadFailed("http", status)
}

// ReceivedTLSError handles a secure transport failure. The load is always
// cancelled before the failure is reported.
func (i *Interceptor) ReceivedTLSError(location string, cancel func()) {
	if cancel != nil {
		cancel()
	}
	i.logger.Warn("navsession: tls error", "location", location)
	i.coord.loadFailed("tls", UnknownErrorCode)
}

// Session side of the coordinator.

func (s *Session) loadStarted(location string) {
	var fx effects
	s.mu.Lock()
	s.coldBootID = ""
	s.notifyLocked(&fx, func(cb Callback) { cb.PageStarted(location) })
	s.mu.Unlock()
	s.flush(fx)
}

func (s *Session) loadFinished(location, identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coldBootID == identity {
		return false
	}
	s.coldBootID = identity
	s.bridge.InstallBridge(func() { s.bridgeInstalled(location) })
	return true
}

func (s *Session) bridgeInstalled(location string) {
	var fx effects
	s.mu.Lock()
	s.logger.Debug("navsession: bridge installed", "location", location)
	s.notifyLocked(&fx, func(cb Callback) { cb.PageFinished(location) })
	s.mu.Unlock()
	s.flush(fx)
}

func (s *Session) swapInterceptTime(now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return time.Time{}, false
	}
	prev := s.lastIntercept
	s.lastIntercept = now
	return prev, true
}

func (s *Session) loadFailed(reason string, code int) {
	var fx effects
	s.mu.Lock()
	s.resetLocked()
	s.metrics.failure(reason)
	s.notifyLocked(&fx, func(cb Callback) { cb.LoadError(code) })
	s.mu.Unlock()
	s.flush(fx)
}
