package pkg

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the stack matches exactly one of
// these with errors.Is.
var (
	// ErrProtocol indicates malformed data read from a card: a header
	// checksum mismatch, a malformed tag, or a premature end of data.
	ErrProtocol = errors.New("protocol error")

	// ErrResource indicates the bus or the host could not provide the
	// resources needed for an operation.
	ErrResource = errors.New("resource error")

	// ErrBusy indicates the target is in use and the caller may retry.
	ErrBusy = errors.New("resource busy")

	// ErrInvalidArgument indicates a caller-supplied value is out of range.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Specific causes. Each wraps its kind so errors.Is matches both.
var (
	// ErrChecksum indicates a serial identifier checksum mismatch.
	ErrChecksum = fmt.Errorf("%w: serial identifier checksum mismatch", ErrProtocol)

	// ErrEndOfData indicates the card stopped supplying resource data.
	ErrEndOfData = fmt.Errorf("%w: end of resource data", ErrProtocol)

	// ErrMalformedTag indicates a tag that cannot be parsed at all.
	ErrMalformedTag = fmt.Errorf("%w: malformed tag", ErrProtocol)

	// ErrNoReadPort indicates no legal read data port could be claimed.
	ErrNoReadPort = fmt.Errorf("%w: no free read data port", ErrResource)

	// ErrNoCombination indicates every alternative was exhausted.
	ErrNoCombination = fmt.Errorf("%w: no legal combination", ErrResource)

	// ErrNotConverged indicates the search hit its pass bound.
	ErrNotConverged = fmt.Errorf("%w: search did not converge", ErrResource)

	// ErrConflict indicates a pinned value collides with another claim.
	ErrConflict = fmt.Errorf("%w: resource conflict", ErrResource)

	// ErrActive indicates the logical device is already active.
	ErrActive = fmt.Errorf("%w: logical device already active", ErrBusy)

	// ErrSessionOpen indicates a configuration session is already open.
	ErrSessionOpen = fmt.Errorf("%w: configuration session already open", ErrBusy)

	// ErrInvalidCSN indicates a card select number outside 1..MaxCards.
	ErrInvalidCSN = fmt.Errorf("%w: card select number out of range", ErrInvalidArgument)

	// ErrInvalidIndex indicates a logical device or resource index out of range.
	ErrInvalidIndex = fmt.Errorf("%w: index out of range", ErrInvalidArgument)

	// ErrNoDevice indicates a nil or unknown logical device.
	ErrNoDevice = fmt.Errorf("%w: no such device", ErrInvalidArgument)

	// ErrNotConfigured indicates activation of a device without resolved resources.
	ErrNotConfigured = fmt.Errorf("%w: logical device not configured", ErrInvalidArgument)

	// ErrNoSession indicates register access outside a configuration session.
	ErrNoSession = fmt.Errorf("%w: no configuration session open", ErrInvalidArgument)
)

// Kind classifies an error into one of the four error kinds.
type Kind uint8

// Error kinds.
const (
	KindNone Kind = iota
	KindProtocol
	KindResource
	KindBusy
	KindInvalidArgument
	KindOther
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	case KindBusy:
		return "busy"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "other"
	}
}

// KindOf classifies err. A nil error is KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrResource):
		return KindResource
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	default:
		return KindOther
	}
}

// Error carries the bus coordinates of a failed operation. CSN and LogDev
// are -1 when not applicable.
type Error struct {
	Op     string
	CSN    int
	LogDev int
	Err    error
}

// NewError wraps err with the operation name and bus coordinates.
func NewError(op string, csn, logdev int, err error) *Error {
	return &Error{Op: op, CSN: csn, LogDev: logdev, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.CSN >= 0 && e.LogDev >= 0:
		return fmt.Sprintf("%s: csn %d logdev %d: %v", e.Op, e.CSN, e.LogDev, e.Err)
	case e.CSN >= 0:
		return fmt.Sprintf("%s: csn %d: %v", e.Op, e.CSN, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Kind returns the classification of the wrapped error.
func (e *Error) Kind() Kind { return KindOf(e.Err) }
