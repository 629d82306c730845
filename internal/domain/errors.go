package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrNoVault          = errors.New("no vault")
	ErrContextDone      = errors.New("context cancelled")
	ErrLockHeld         = errors.New("lock already held")
)
