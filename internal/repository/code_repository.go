package repository

import (
	"context"
	"game-rewards/internal/model"
	"time"
)

// CodeRepository defines the discount-code data operations. Uniqueness within
// a shop is enforced by the store (unique index), surfaced as
// ErrDuplicateCode from InsertPending.
type CodeRepository interface {
	// InsertPending persists a freshly generated code before its external
	// registration. Returns ErrDuplicateCode on a shop-scoped collision.
	InsertPending(ctx context.Context, code *model.DiscountCode) error

	// Activate marks a pending code active after successful external
	// registration, recording the platform price-rule id.
	Activate(ctx context.Context, shopDomain, code, priceRuleID string) error

	// DeletePending removes a pending code whose external registration failed
	// terminally, so the code string is not leaked to a customer.
	DeletePending(ctx context.Context, shopDomain, code string) error

	// GetByCode retrieves a code within a shop's namespace.
	GetByCode(ctx context.Context, shopDomain, code string) (*model.DiscountCode, error)

	// GetSessionCode retrieves the code owned by a session, if any.
	GetSessionCode(ctx context.Context, sessionID string) (*model.DiscountCode, error)

	// MarkUsed transitions is_used false to true exactly once, and only for
	// an active, unexpired code. Returns ErrCodeNotUsable otherwise.
	MarkUsed(ctx context.Context, shopDomain, code string, usedAt time.Time) error
}
