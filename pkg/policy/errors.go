package policy

import "errors"

var (
	ErrLoadSnapshot = errors.New("policy: load rule snapshot")
)
