package sink

import "context"

// Func delivers events to an in-process function with no serialisation.
type Func func(ctx context.Context, ev Event) error

func (f Func) Send(ctx context.Context, ev Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, ev)
}

func (f Func) Close() error { return nil }
