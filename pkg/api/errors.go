package api

import "errors"

var (
	ErrInvalidRule    = errors.New("invalid rule")
	ErrInvalidPattern = errors.New("invalid matcher pattern")
	ErrInvalidAction  = errors.New("invalid rule action")
	ErrRuleNotFound   = errors.New("rule not found")
	ErrGroupNotFound  = errors.New("rule group not found")
	ErrBlocked        = errors.New("request blocked by rule")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidExport  = errors.New("invalid export payload")
)
