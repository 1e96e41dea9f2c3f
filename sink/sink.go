// Package sink delivers session lifecycle events to outputs outside the
// process: stdout JSON lines, webhooks, in-process functions, or several of
// those at once.
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/navbridge/pathconfig"
)

// Event types, one per host callback.
const (
	TypeVisitStarted  = "visit_started"
	TypeVisitProposed = "visit_proposed"
	TypeRequestFailed = "request_failed"
	TypeRendered      = "rendered"
	TypeCompleted     = "completed"
	TypeInvalidated   = "invalidated"
	TypePageStarted   = "page_started"
	TypePageFinished  = "page_finished"
	TypeLoadError     = "load_error"
)

// Event is one session lifecycle event.
type Event struct {
	Type       string                `json:"type"`
	Session    string                `json:"session"`
	Location   string                `json:"location,omitempty"`
	Action     string                `json:"action,omitempty"`
	Code       int                   `json:"code,omitempty"`
	Properties pathconfig.Properties `json:"properties,omitempty"`
	Time       time.Time             `json:"time"`
}

// Sink is the output interface.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}
