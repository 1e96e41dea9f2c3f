// CLAUDE:SUMMARY Adapts a Sink to the session callback surface so every lifecycle event becomes an Event.
package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/navbridge/pathconfig"
	"github.com/hazyhaar/navbridge/visit"
)

// Callback turns session callbacks into Events sent to a Sink. Each send
// is bounded by a timeout so a slow output cannot stall the callback
// thread forever; failures are logged and otherwise ignored.
type Callback struct {
	sink    Sink
	session string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewCallback creates a Callback for the named session.
func NewCallback(s Sink, session string, logger *slog.Logger) *Callback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Callback{
		sink:    s,
		session: session,
		timeout: 15 * time.Second,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Callback) VisitStarted(location string) {
	c.emit(Event{Type: TypeVisitStarted, Location: location})
}

func (c *Callback) VisitProposed(location string, opts visit.Options, props pathconfig.Properties) {
	c.emit(Event{Type: TypeVisitProposed, Location: location, Action: string(opts.Action), Properties: props})
}

func (c *Callback) RequestFailed(code int) {
	c.emit(Event{Type: TypeRequestFailed, Code: code})
}

func (c *Callback) Rendered()    { c.emit(Event{Type: TypeRendered}) }
func (c *Callback) Completed()   { c.emit(Event{Type: TypeCompleted}) }
func (c *Callback) Invalidated() { c.emit(Event{Type: TypeInvalidated}) }

func (c *Callback) PageStarted(location string) {
	c.emit(Event{Type: TypePageStarted, Location: location})
}

func (c *Callback) PageFinished(location string) {
	c.emit(Event{Type: TypePageFinished, Location: location})
}

func (c *Callback) LoadError(code int) {
	c.emit(Event{Type: TypeLoadError, Code: code})
}

func (c *Callback) emit(ev Event) {
	ev.Session = c.session
	ev.Time = c.now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.sink.Send(ctx, ev); err != nil {
		c.logger.Warn("sink: event dropped", "type", ev.Type, "session", c.session, "error", err)
	}
}
