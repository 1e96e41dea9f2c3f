package sink

import (
	"context"
	"errors"
	"log/slog"
)

// Router fans events out to all configured sinks. One sink error does not
// block the others: errors are logged and the first encountered is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, ev Event) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, ev); err != nil {
			r.logger.Warn("sink: send failed", "type", ev.Type, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes every sink and joins their errors.
func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
