package sdk

import "errors"

var (
	ErrDial            = errors.New("sdk: dial bridge socket")
	ErrClosed          = errors.New("sdk: client closed")
	ErrDecisionTimeout = errors.New("sdk: mock decision timed out")
	ErrLookupFailed    = errors.New("sdk: rule lookup failed")
	ErrBadOptions      = errors.New("sdk: parse environment options")
)
