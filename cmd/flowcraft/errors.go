package main

import "errors"

// Config errors
var (
	ErrReadConfig    = errors.New("read config file")
	ErrParseConfig   = errors.New("parse config file")
	ErrCreateDataDir = errors.New("create data dir")
)

// Run errors
var (
	ErrOpenStore     = errors.New("open rule store")
	ErrLoadRulesFile = errors.New("load rules file")
	ErrStartBridge   = errors.New("start bridge server")
	ErrStartProxy    = errors.New("start proxy")
	ErrStartAdmin    = errors.New("start admin server")
	ErrAttachBrowser = errors.New("attach to browser")
	ErrOpenCapture   = errors.New("open capture file")
)

// Rule command errors
var (
	ErrRuleFileRequired = errors.New("rule definition file required")
	ErrReadRuleFile     = errors.New("read rule file")
	ErrParseRule        = errors.New("parse rule")
	ErrInvalidSetExpr   = errors.New("invalid --set expression, want path=value")
)

// Logs command errors
var (
	ErrOpenLogFile = errors.New("open traffic log file")
)

// Export/import errors
var (
	ErrWriteExport = errors.New("write export file")
	ErrReadImport  = errors.New("read import file")
	ErrParseImport = errors.New("parse import payload")
)
