package registry

import "fmt"

// Kind enumerates the registry's error taxonomy. Boundaries (the ingress
// forwarder, the management handlers) switch on Kind rather than matching
// error strings.
type Kind int

const (
	// KindUnknown is the zero value and never returned deliberately.
	KindUnknown Kind = iota
	KindRouteExists
	KindInvalidToken
	KindRouteGone
	KindNotConnected
	KindTimeout
	KindDisconnected
	KindSuperseded
	KindTransportError
	KindMalformed
	KindDuplicateCorrelation
)

func (k Kind) String() string {
	switch k {
	case KindRouteExists:
		return "RouteExists"
	case KindInvalidToken:
		return "InvalidToken"
	case KindRouteGone:
		return "RouteGone"
	case KindNotConnected:
		return "NotConnected"
	case KindTimeout:
		return "Timeout"
	case KindDisconnected:
		return "Disconnected"
	case KindSuperseded:
		return "Superseded"
	case KindTransportError:
		return "TransportError"
	case KindMalformed:
		return "Malformed"
	case KindDuplicateCorrelation:
		return "DuplicateCorrelation"
	default:
		return "Unknown"
	}
}

// Error is the typed error every registry/session operation returns for
// taxonomy conditions. Callers use errors.As to recover the Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapErr(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
