package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBatchTerminal     = errors.New("batch already terminal")
	ErrNoJobAvailable    = errors.New("no job available")
	ErrProviderFailure   = errors.New("provider failure")
	ErrPackagingFailure  = errors.New("artifact packaging failed")
)
