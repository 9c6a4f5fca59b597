package nodecore

import "errors"

// Kind classifies the outcome of a core API call, matching the error kinds
// a home-automation node surfaces across its radio, bus, and broker APIs.
type Kind uint8

const (
	// KindOK indicates the call completed successfully. Code should prefer
	// a nil error over wrapping KindOK; it exists so a Kind can be read off
	// an error that has already been classified.
	KindOK Kind = iota
	KindInvalidParameter
	KindInvalidState
	KindBusy
	KindOutOfMemory
	KindTimeout
	KindProtocolError
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindInvalidState:
		return "invalid_state"
	case KindBusy:
		return "busy"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindTimeout:
		return "timeout"
	case KindProtocolError:
		return "protocol_error"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// coreError pairs a Kind with a message so callers can both errors.Is against
// a sentinel and read a human-readable cause.
type coreError struct {
	kind Kind
	msg  string
}

func (e *coreError) Error() string { return e.kind.String() + ": " + e.msg }

func (e *coreError) Is(target error) bool {
	t, ok := target.(*coreError)
	return ok && t.kind == e.kind
}

// NewError builds an error of the given Kind carrying msg, matching the
// error-kind table in spec §7.
func NewError(kind Kind, msg string) error {
	return &coreError{kind: kind, msg: msg}
}

// ErrorKind extracts the Kind from an error built with NewError, or KindOK
// with ok=false if err is nil, or KindProtocolError with ok=false if err
// was not produced by this package.
func ErrorKind(err error) (Kind, bool) {
	if err == nil {
		return KindOK, false
	}
	var ce *coreError
	if errors.As(err, &ce) {
		return ce.kind, true
	}
	return KindProtocolError, false
}

// Sentinels for the common cases callers want to errors.Is against directly.
var (
	ErrInvalidParameter = &coreError{kind: KindInvalidParameter, msg: "invalid parameter"}
	ErrInvalidState     = &coreError{kind: KindInvalidState, msg: "invalid state"}
	ErrBusy             = &coreError{kind: KindBusy, msg: "busy"}
	ErrOutOfMemory      = &coreError{kind: KindOutOfMemory, msg: "out of memory"}
	ErrTimeout          = &coreError{kind: KindTimeout, msg: "timeout"}
	ErrProtocol         = &coreError{kind: KindProtocolError, msg: "protocol error"}
	ErrRejected         = &coreError{kind: KindRejected, msg: "rejected"}
)
