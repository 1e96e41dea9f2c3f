package navsession

import (
	"github.com/hazyhaar/navbridge/pathconfig"
	"github.com/hazyhaar/navbridge/protocol"
	"github.com/hazyhaar/navbridge/visit"
)

// HandlePayload decodes a raw binding payload and handles it. Malformed
// payloads are logged and dropped.
func (s *Session) HandlePayload(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		s.logger.Warn("navsession: dropping malformed message", "error", err)
		s.metrics.failure("malformed")
		return
	}
	s.Handle(msg)
}

// Handle applies one runtime message. Messages addressed to a visit that is
// no longer tracked are dropped without any observable effect.
func (s *Session) Handle(msg protocol.Message) {
	s.metrics.message(msg.Name())

	// Invalidation re-enters RequestVisit, which takes the lock itself.
	if _, ok := msg.(protocol.PageInvalidated); ok {
		s.logger.Info("navsession: page invalidated")
		s.Invalidate()
		return
	}

	var fx effects
	s.mu.Lock()
	switch m := msg.(type) {
	case protocol.VisitProposed:
		s.visitProposedLocked(&fx, m)
	case protocol.VisitStarted:
		s.logger.Debug("navsession: visit started",
			"visit_id", m.VisitIdentifier, "location", m.Location, "cached_snapshot", m.HasCachedSnapshot)
		if s.current != nil {
			s.current.Identifier = m.VisitIdentifier
		}
	case protocol.VisitRequestCompleted:
		s.logger.Debug("navsession: visit request completed", "visit_id", m.VisitIdentifier)
	case protocol.VisitRequestFinished:
		s.logger.Debug("navsession: visit request finished", "visit_id", m.VisitIdentifier)
	case protocol.VisitRequestFailed:
		if !s.matchesCurrentLocked(m.VisitIdentifier) {
			s.staleLocked(m)
			break
		}
		s.logger.Info("navsession: visit request failed", "visit_id", m.VisitIdentifier, "status", m.StatusCode)
		s.metrics.failure("request")
		code := m.StatusCode
		s.notifyLocked(&fx, func(cb Callback) { cb.RequestFailed(code) })
	case protocol.PageLoaded:
		s.logger.Debug("navsession: page loaded", "restoration_id", m.RestorationIdentifier)
		if s.current != nil {
			s.restoration.Put(s.current.Destination, m.RestorationIdentifier)
		}
	case protocol.VisitRendered:
		if !s.matchesEitherLocked(m.VisitIdentifier) {
			s.staleLocked(m)
			break
		}
		s.logger.Debug("navsession: visit rendered", "visit_id", m.VisitIdentifier)
		s.renderCompleteLocked(&fx, m.VisitIdentifier)
	case protocol.VisitCompleted:
		if !s.matchesCurrentLocked(m.VisitIdentifier) {
			s.staleLocked(m)
			break
		}
		s.logger.Info("navsession: visit completed",
			"visit_id", m.VisitIdentifier, "restoration_id", m.RestorationIdentifier)
		s.restoration.Put(s.current.Destination, m.RestorationIdentifier)
		s.notifyLocked(&fx, func(cb Callback) { cb.Completed() })
	case protocol.ReadinessChanged:
		s.readinessChangedLocked(&fx, m.IsReady)
	case protocol.RuntimeFailedToLoad:
		s.logger.Warn("navsession: runtime failed to load")
		s.resetLocked()
		s.metrics.failure("runtime_load")
		s.notifyLocked(&fx, func(cb Callback) { cb.LoadError(UnknownErrorCode) })
	default:
		s.logger.Warn("navsession: unhandled message", "name", msg.Name())
	}
	s.mu.Unlock()
	s.flush(fx)
}

func (s *Session) visitProposedLocked(fx *effects, m protocol.VisitProposed) {
	opts, err := visit.ParseOptions(m.Options)
	if err != nil {
		s.logger.Warn("navsession: dropping proposal", "location", m.Location, "error", err)
		s.metrics.failure("malformed")
		return
	}
	props := pathconfig.Properties{}
	if s.paths != nil {
		props = s.paths.Properties(m.Location)
	}
	s.logger.Info("navsession: visit proposed", "location", m.Location, "action", opts.Action)
	loc := m.Location
	s.notifyLocked(fx, func(cb Callback) { cb.VisitProposed(loc, opts, props) })
}

func (s *Session) readinessChangedLocked(fx *effects, ready bool) {
	s.logger.Info("navsession: readiness changed", "ready", ready, "state", s.state)
	if !ready {
		s.resetLocked()
		s.state = NotReady
		s.metrics.failure("runtime_init")
		s.notifyLocked(fx, func(cb Callback) { cb.RequestFailed(RuntimeInitFailedCode) })
		return
	}

	if s.pending != nil {
		v := s.pending
		s.pending = nil
		s.navigateLocked(v)
		return
	}

	s.state = Ready
	s.logger.Info("navsession: render cold boot", "visit_id", s.coldBootID)
	s.bridge.RenderColdBoot(s.coldBootID)
	s.notifyLocked(fx, func(cb Callback) { cb.Completed() })
}

func (s *Session) staleLocked(m protocol.Message) {
	var id string
	if im, ok := m.(protocol.Identified); ok {
		id = im.VisitID()
	}
	s.logger.Debug("navsession: stale message dropped", "name", m.Name(), "visit_id", id)
	s.metrics.stale(m.Name())
}
