package repository

import "context"

// CounterRepository defines the atomic play-counter operations. Increment is
// the single check-and-increment the rate limiter depends on: two concurrent
// callers must never both succeed past the limit.
type CounterRepository interface {
	// Increment atomically increments the counter for (shop, customerKey,
	// periodKey) iff the result would not exceed limit. Returns the new count
	// or ErrLimitExceeded without mutating anything.
	Increment(ctx context.Context, shopDomain, customerKey, periodKey string, limit int) (int, error)

	// Decrement rolls back a prior Increment when a later counter in the same
	// start call was rejected. Never drops below zero.
	Decrement(ctx context.Context, shopDomain, customerKey, periodKey string) error

	// Count returns the current count, zero if the counter does not exist.
	Count(ctx context.Context, shopDomain, customerKey, periodKey string) (int, error)
}
