package repository

import "errors"

// Store-level sentinel errors shared by the mongo implementations and the
// in-memory test double.
var (
	ErrShopNotFound    = errors.New("shop not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrCodeNotFound    = errors.New("discount code not found")
	ErrNoTransition    = errors.New("session not in a completable state")
	ErrLimitExceeded   = errors.New("play limit exceeded")
	ErrDuplicateCode   = errors.New("discount code already exists")
	ErrCodeNotUsable   = errors.New("discount code is not usable")
)
