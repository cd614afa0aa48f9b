package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrExpired            = errors.New("artifact expired")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrDuplicateEvent     = errors.New("duplicate payment event")
	ErrQueueUnavailable   = errors.New("queue unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStateConflict      = errors.New("conflicting job state")
	ErrMaxRetries         = errors.New("max retries exceeded")
)
