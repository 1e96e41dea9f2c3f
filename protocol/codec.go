package protocol

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
)

// BindingName is the page-global function the adapter posts envelopes to.
const BindingName = "__navbridge"

// AdapterScript is injected into every page once its document has loaded.
// It registers itself as the runtime's adapter and forwards every lifecycle
// callback as an envelope through BindingName. It also exposes
// window.navbridgeNative, which the host calls to drive navigation.
//
//go:embed adapter.js
var AdapterScript string

var (
	// ErrUnknownMessage is returned by Decode for an envelope whose name is
	// not part of the protocol.
	ErrUnknownMessage = errors.New("protocol: unknown message")
	// ErrMalformed is returned by Decode when the envelope or its data
	// cannot be parsed.
	ErrMalformed = errors.New("protocol: malformed envelope")
)

// Envelope is the wire form of a Message.
type Envelope struct {
	Name Name            `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses one envelope into its Message variant.
func Decode(payload []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		msg Message
		err error
	)
	switch env.Name {
	case NameVisitProposed:
		msg = decodeInto[VisitProposed](env.Data, &err)
	case NameVisitStarted:
		msg = decodeInto[VisitStarted](env.Data, &err)
	case NameVisitRequestCompleted:
		msg = decodeInto[VisitRequestCompleted](env.Data, &err)
	case NameVisitRequestFailed:
		msg = decodeInto[VisitRequestFailed](env.Data, &err)
	case NameVisitRequestFinished:
		msg = decodeInto[VisitRequestFinished](env.Data, &err)
	case NamePageLoaded:
		msg = decodeInto[PageLoaded](env.Data, &err)
	case NameVisitRendered:
		msg = decodeInto[VisitRendered](env.Data, &err)
	case NameVisitCompleted:
		msg = decodeInto[VisitCompleted](env.Data, &err)
	case NamePageInvalidated:
		msg = PageInvalidated{}
	case NameReadinessChanged:
		msg = decodeInto[ReadinessChanged](env.Data, &err)
	case NameRuntimeFailedToLoad:
		msg = RuntimeFailedToLoad{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Name, err)
	}
	return msg, nil
}

// Encode produces the wire form of msg.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Name(), err)
	}
	return json.Marshal(Envelope{Name: msg.Name(), Data: data})
}

func decodeInto[T Message](data json.RawMessage, errp *error) Message {
	var m T
	if len(data) == 0 {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		*errp = err
	}
	return m
}
