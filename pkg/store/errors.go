package store

import "errors"

var (
	ErrOpenStore   = errors.New("store: open database")
	ErrMigrate     = errors.New("store: run migrations")
	ErrEncodeRule  = errors.New("store: encode rule")
	ErrDecodeRule  = errors.New("store: decode rule")
	ErrLoadRules   = errors.New("store: load rules file")
	ErrWatchSource = errors.New("store: watch rules file")
)
