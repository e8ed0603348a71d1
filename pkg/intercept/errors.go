package intercept

import "errors"

var (
	ErrListen        = errors.New("intercept: listen on proxy address")
	ErrGenerateCA    = errors.New("intercept: generate CA")
	ErrLoadCA        = errors.New("intercept: load CA")
	ErrSaveCA        = errors.New("intercept: save CA")
	ErrIssueLeafCert = errors.New("intercept: issue leaf certificate")
)
