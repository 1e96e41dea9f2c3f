// Package visit defines the value types shared by both sides of the
// navigation protocol: the requested navigation semantics and the registry
// of restoration tokens kept per destination.
package visit

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action is the requested navigation semantics.
type Action string

const (
	ActionAdvance Action = "advance" // push a new entry
	ActionRestore Action = "restore" // restore a previously rendered snapshot
	ActionReplace Action = "replace" // replace the current entry
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAdvance, ActionRestore, ActionReplace:
		return true
	}
	return false
}

// ErrInvalidOptions is returned by ParseOptions for payloads that cannot be
// turned into Options.
var ErrInvalidOptions = errors.New("visit: invalid options")

// Options describes how a visit should be performed. It is a value type:
// copy it, never share a pointer to it.
type Options struct {
	Action Action `json:"action"`
}

// DefaultOptions are the options used for visits proposed by the host itself.
func DefaultOptions() Options {
	return Options{Action: ActionAdvance}
}

// WithAction returns a copy of o with the action replaced.
func (o Options) WithAction(a Action) Options {
	o.Action = a
	return o
}

// JSON encodes o as its wire object.
func (o Options) JSON() []byte {
	data, _ := json.Marshal(o)
	return data
}

func (o Options) String() string {
	return string(o.JSON())
}

// ParseOptions decodes a wire object. Unknown fields are ignored. Malformed
// JSON, a missing action or an unknown action yield ErrInvalidOptions; there
// is no silent fallback to defaults.
func ParseOptions(raw []byte) (Options, error) {
	var o Options
	if err := json.Unmarshal(raw, &o); err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if !o.Action.Valid() {
		return Options{}, fmt.Errorf("%w: action %q", ErrInvalidOptions, o.Action)
	}
	return o, nil
}
