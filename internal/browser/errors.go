package browser

import (
	"errors"
	"fmt"
)

// Kind classifies a driver failure for the session controller.
type Kind int

const (
	// KindOther is any failure not covered by a more specific kind.
	KindOther Kind = iota
	// KindNotFound means the requested element is not on the page.
	KindNotFound
	// KindNoDialog means there was no JavaScript dialog to dismiss.
	KindNoDialog
	// KindConnectivity means the page could not be reached, usually
	// because the proxy is down or refusing connections.
	KindConnectivity
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindNoDialog:
		return "no_dialog"
	case KindConnectivity:
		return "connectivity"
	default:
		return "other"
	}
}

var (
	// ErrUnknownHandle is returned when a handle was not created by this driver.
	ErrUnknownHandle = errors.New("unknown browser handle")
	// ErrElementNotFound is the cause used for KindNotFound errors.
	ErrElementNotFound = errors.New("no such element")
	// ErrNoDialog is the cause used for KindNoDialog errors.
	ErrNoDialog = errors.New("no such dialog")
)

// Error is a classified driver failure.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("browser %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("browser %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a driver failure of the given kind.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind of err, or KindOther when err is not a driver error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindOther
}

// IsNotFound reports whether err means the element was absent.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsNoDialog reports whether err means there was no dialog to dismiss.
func IsNoDialog(err error) bool {
	return err != nil && KindOf(err) == KindNoDialog
}

// IsConnectivity reports whether err means the target could not be reached.
func IsConnectivity(err error) bool {
	return err != nil && KindOf(err) == KindConnectivity
}
