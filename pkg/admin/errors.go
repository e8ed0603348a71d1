package admin

import "errors"

var (
	ErrListen = errors.New("failed to listen on admin address")
)
