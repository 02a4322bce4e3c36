package domain

import "errors"

var (
	ErrValidation              = errors.New("validation failed")
	ErrDuplicateRequest        = errors.New("duplicate identifier")
	ErrInvalidAddress          = errors.New("invalid address")
	ErrDestinationNotActivated = errors.New("destination account not activated")
	ErrInsufficientBalance     = errors.New("insufficient app balance")
	ErrProcessor               = errors.New("payment processor error")
	ErrLedgerSubmission        = errors.New("ledger submission failed")
	ErrCompletionPending       = errors.New("ledger payment submitted, completion pending")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrStaleRecord             = errors.New("record changed concurrently")
	ErrNotFound                = errors.New("payment not found")
)
