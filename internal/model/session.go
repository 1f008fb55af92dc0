package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionState is the play-session lifecycle state.
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateCompleted SessionState = "completed"
	StateExpired   SessionState = "expired"
	StateAbandoned SessionState = "abandoned"
)

// PlaySession is one attempt to play a mini-game. SessionID is the
// client-visible correlation key and the idempotency key for finish calls.
type PlaySession struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID     string             `bson:"session_id" json:"session_id"`
	ShopDomain    string             `bson:"shop_domain" json:"shop_domain"`
	CustomerID    string             `bson:"customer_id,omitempty" json:"customer_id,omitempty"`
	CustomerEmail string             `bson:"customer_email,omitempty" json:"customer_email,omitempty"`
	Source        string             `bson:"source,omitempty" json:"source,omitempty"`
	Referrer      string             `bson:"referrer,omitempty" json:"referrer,omitempty"`

	State       SessionState `bson:"state" json:"state"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	CompletedAt *time.Time   `bson:"completed_at,omitempty" json:"completed_at,omitempty"`

	// Outcome, recorded exactly once on the first successful finish so that
	// retried finish calls can replay it.
	FinalScore      *int       `bson:"final_score,omitempty" json:"final_score,omitempty"`
	DiscountPercent int        `bson:"discount_percent" json:"discount_percent"`
	DiscountCode    string     `bson:"discount_code,omitempty" json:"discount_code,omitempty"`
	CodeExpiresAt   *time.Time `bson:"code_expires_at,omitempty" json:"code_expires_at,omitempty"`
	RewardPending   bool       `bson:"reward_pending" json:"reward_pending"`
	OutcomeRecorded bool       `bson:"outcome_recorded" json:"outcome_recorded"`
}

// CodeStatus tracks the two-phase issuance write: a code is persisted as
// pending before the external registration call and activated after it.
type CodeStatus string

const (
	CodePending CodeStatus = "pending"
	CodeActive  CodeStatus = "active"
)

// DiscountCode is the persisted code record. It outlives its owning session.
type DiscountCode struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Code        string             `bson:"code" json:"code"`
	ShopDomain  string             `bson:"shop_domain" json:"shop_domain"`
	SessionID   string             `bson:"session_id" json:"session_id"`
	Percent     int                `bson:"percent" json:"percent"`
	TierIndex   int                `bson:"tier_index" json:"tier_index"`
	Status      CodeStatus         `bson:"status" json:"status"`
	PriceRuleID string             `bson:"price_rule_id,omitempty" json:"-"`
	IsUsed      bool               `bson:"is_used" json:"is_used"`
	UsedAt      *time.Time         `bson:"used_at,omitempty" json:"used_at,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time          `bson:"expires_at" json:"expires_at"`
}

// Usable reports whether the code can still be applied downstream: active,
// never used, and not past expiry.
func (d *DiscountCode) Usable(now time.Time) bool {
	return d.Status == CodeActive && !d.IsUsed && now.Before(d.ExpiresAt)
}

// PlayCounter enforces play caps. One document per (shop, customer key,
// period), incremented atomically and never decremented except to roll back
// a failed multi-counter start.
type PlayCounter struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ShopDomain  string             `bson:"shop_domain" json:"shop_domain"`
	CustomerKey string             `bson:"customer_key" json:"customer_key"`
	PeriodKey   string             `bson:"period_key" json:"period_key"`
	Count       int                `bson:"count" json:"count"`
}

// LifetimePeriodKey is the period key for lifetime-scoped customer caps.
const LifetimePeriodKey = "lifetime"

// DayKey formats t as the calendar-day period key. Counters roll over
// naturally because each day keys a fresh document.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// VisitorContext is what the storefront widget knows about a visitor when
// deciding whether to offer the game. It never reaches persistent storage.
type VisitorContext struct {
	ShopDomain string
	VisitorID  string
	CustomerID string
	PageType   string
	PageURL    string
	Device     string
}

// IdentityKey is the rate-limit and rollout identity: customer id when known,
// otherwise email, otherwise the widget-assigned visitor id.
func IdentityKey(customerID, customerEmail, visitorID string) string {
	switch {
	case customerID != "":
		return customerID
	case customerEmail != "":
		return customerEmail
	default:
		return visitorID
	}
}
