package bridge

import "errors"

var (
	ErrListen      = errors.New("bridge: listen on socket")
	ErrClosed      = errors.New("bridge: connection closed")
	ErrDecodeReply = errors.New("bridge: decode reply")
)
