package navsession

import (
	"github.com/hazyhaar/navbridge/pathconfig"
	"github.com/hazyhaar/navbridge/visit"
)

// Bridge instructs the web view and the runtime living in it. Every method
// is fire-and-forget: implementations queue the work and return at once,
// and must not call back into the Session synchronously. Outcomes come
// back as protocol messages or Interceptor events.
type Bridge interface {
	// LoadLocation performs a full native page load.
	LoadLocation(location string)
	// Reload reloads the current document natively.
	Reload()
	// Navigate asks the runtime for an in-page visit.
	Navigate(location string, opts visit.Options, restorationID string)
	// InstallBridge injects the protocol adapter into the loaded document
	// and calls onInstalled once it is in place.
	InstallBridge(onInstalled func())
	// RenderColdBoot tells the runtime the cold-boot page is on screen.
	RenderColdBoot(visitID string)
}

// VisualStateNotifier is implemented by bridges able to acknowledge that
// pending DOM updates have reached the screen. done receives requestID
// back once the next frame containing them is drawn.
type VisualStateNotifier interface {
	PostVisualStateCallback(requestID int64, done func(requestID int64))
}

// PropertyResolver maps a location to its presentation properties.
type PropertyResolver interface {
	Properties(location string) pathconfig.Properties
}

// Visit is one requested navigation.
type Visit struct {
	// Identifier is assigned by the runtime once the visit starts.
	Identifier  string
	Location    string
	Options     visit.Options
	Destination int
	Reload      bool
	// Callback receives this visit's events. Nil falls back to the
	// session's default callback.
	Callback Callback
}

// WithReload returns the reload variant of v: same location, options and
// destination, no identifier.
func (v Visit) WithReload() Visit {
	v.Identifier = ""
	v.Reload = true
	return v
}

// State is the coordinator state.
type State int

const (
	NotReady State = iota
	ColdBooting
	ColdBootingWithPendingVisit
	Ready
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "not_ready"
	case ColdBooting:
		return "cold_booting"
	case ColdBootingWithPendingVisit:
		return "cold_booting_pending"
	case Ready:
		return "ready"
	}
	return "unknown"
}

func (s State) coldBooting() bool {
	return s == ColdBooting || s == ColdBootingWithPendingVisit
}
