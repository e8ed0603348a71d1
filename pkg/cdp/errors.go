package cdp

import "errors"

var (
	ErrNoTarget    = errors.New("cdp: no attachable browser target")
	ErrDial        = errors.New("cdp: dial devtools websocket")
	ErrNotAttached = errors.New("cdp: adapter not attached")
	ErrEnable      = errors.New("cdp: enable request interception")
)
