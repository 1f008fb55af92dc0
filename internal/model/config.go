package model

import (
	"errors"
	"fmt"
)

// CustomerLimitScope controls whether maxPlaysPerCustomer is a daily or a
// lifetime cap.
type CustomerLimitScope string

const (
	ScopeDaily    CustomerLimitScope = "daily"
	ScopeLifetime CustomerLimitScope = "lifetime"
)

// LateFinishPolicy controls whether a finish call against an Expired session
// is still honored.
type LateFinishPolicy string

const (
	LateFinishAccept LateFinishPolicy = "accept"
	LateFinishReject LateFinishPolicy = "reject"
)

// ShowOn values mirror the widget targeting options in the dashboard.
const (
	ShowOnAll         = "all"
	ShowOnProduct     = "product"
	ShowOnCollection  = "collection"
	ShowOnCustomPages = "custom"
)

// Device targeting classes.
const (
	DeviceAll     = "all"
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
)

// DiscountTier maps a minimum score to a discount percent.
type DiscountTier struct {
	MinScore        int    `bson:"min_score" json:"min_score"`
	DiscountPercent int    `bson:"discount_percent" json:"discount_percent"`
	Message         string `bson:"message" json:"message"`
}

// ShopConfig is the per-shop game and discount configuration. It is written
// by the merchant dashboard (external to this service) and read-only here.
// Validate must pass before any component consumes it; a shop with a
// malformed config is treated as disabled.
type ShopConfig struct {
	ShopDomain string `bson:"shop_domain" json:"shop_domain"`
	IsEnabled  bool   `bson:"is_enabled" json:"is_enabled"`

	MinScoreForDiscount int                `bson:"min_score_for_discount" json:"min_score_for_discount"`
	MaxPlaysPerCustomer int                `bson:"max_plays_per_customer" json:"max_plays_per_customer"`
	MaxPlaysPerDay      int                `bson:"max_plays_per_day" json:"max_plays_per_day"`
	CustomerLimitScope  CustomerLimitScope `bson:"customer_limit_scope" json:"customer_limit_scope"`

	DiscountTiers             []DiscountTier `bson:"discount_tiers" json:"discount_tiers"`
	DiscountExpiryHours       int            `bson:"discount_expiry_hours" json:"discount_expiry_hours"`
	ExcludeDiscountedProducts bool           `bson:"exclude_discounted_products" json:"exclude_discounted_products"`
	AllowStackingDiscounts    bool           `bson:"allow_stacking_discounts" json:"allow_stacking_discounts"`

	// Score plausibility bounds: points per second of reported gameplay.
	// ScoreCeilings overrides the default per game type.
	MaxScorePerSecond int            `bson:"max_score_per_second" json:"max_score_per_second"`
	ScoreCeilings     map[string]int `bson:"score_ceilings,omitempty" json:"score_ceilings,omitempty"`

	LateFinishPolicy LateFinishPolicy `bson:"late_finish_policy" json:"late_finish_policy"`

	// Storefront targeting
	UserPercentage  int      `bson:"user_percentage" json:"user_percentage"`
	TestMode        bool     `bson:"test_mode" json:"test_mode"`
	TriggerEvent    string   `bson:"trigger_event" json:"trigger_event"`
	Position        string   `bson:"position" json:"position"`
	ShowOn          string   `bson:"show_on" json:"show_on"`
	CustomPages     []string `bson:"custom_pages,omitempty" json:"custom_pages,omitempty"`
	DeviceTargeting string   `bson:"device_targeting" json:"device_targeting"`
}

var (
	ErrNoTiers            = errors.New("config: at least one discount tier is required")
	ErrTiersNotIncreasing = errors.New("config: tier min scores must be strictly increasing")
	ErrTiersNotMonotonic  = errors.New("config: discount percents must not decrease with min score")
	ErrBadExpiryHours     = errors.New("config: discount expiry hours must be positive")
	ErrBadUserPercentage  = errors.New("config: user percentage must be within [0,100]")
)

// Validate checks the config invariants once at load time so tier resolution
// never has to deal with a malformed table.
func (c *ShopConfig) Validate() error {
	if len(c.DiscountTiers) == 0 {
		return ErrNoTiers
	}
	for i := 1; i < len(c.DiscountTiers); i++ {
		if c.DiscountTiers[i].MinScore <= c.DiscountTiers[i-1].MinScore {
			return fmt.Errorf("%w: tier %d", ErrTiersNotIncreasing, i)
		}
		if c.DiscountTiers[i].DiscountPercent < c.DiscountTiers[i-1].DiscountPercent {
			return fmt.Errorf("%w: tier %d", ErrTiersNotMonotonic, i)
		}
	}
	if c.DiscountExpiryHours <= 0 {
		return ErrBadExpiryHours
	}
	if c.UserPercentage < 0 || c.UserPercentage > 100 {
		return ErrBadUserPercentage
	}
	if c.CustomerLimitScope == "" {
		c.CustomerLimitScope = ScopeDaily
	}
	if c.LateFinishPolicy == "" {
		c.LateFinishPolicy = LateFinishAccept
	}
	return nil
}

// ScoreCeiling returns the plausibility rate (points per second) for a game
// type, falling back to the shop-wide default.
func (c *ShopConfig) ScoreCeiling(gameType string) int {
	if rate, ok := c.ScoreCeilings[gameType]; ok && rate > 0 {
		return rate
	}
	return c.MaxScorePerSecond
}

// ShopRecord is the install record created by the OAuth flow (external to
// this service). The access token authorizes Admin API calls for the shop.
type ShopRecord struct {
	ShopDomain  string `bson:"shop_domain" json:"shop_domain"`
	AccessToken string `bson:"access_token" json:"-"`
}
