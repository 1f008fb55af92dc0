package model

import "time"

// StartSessionRequest begins a play session.
type StartSessionRequest struct {
	ShopDomain    string `json:"shop_domain" binding:"required"`
	VisitorID     string `json:"visitor_id" binding:"required"`
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
	Source        string `json:"source"`
	Referrer      string `json:"referrer"`
}

// StartSessionResponse reports the new session and remaining plays.
type StartSessionResponse struct {
	SessionID      string `json:"session_id"`
	CanPlay        bool   `json:"can_play"`
	PlaysRemaining int    `json:"plays_remaining"`
}

// GameTelemetry is the opaque gameplay evidence reported with a final score.
// Only the fields needed for plausibility bounds are modeled.
type GameTelemetry struct {
	GameType   string `json:"game_type" binding:"required"`
	DurationMs int64  `json:"duration_ms" binding:"required,min=1"`
	Events     int    `json:"events"`
}

// FinishSessionRequest reports a final score for a session.
type FinishSessionRequest struct {
	SessionID     string        `json:"session_id" binding:"required"`
	FinalScore    *int          `json:"final_score" binding:"required"`
	Telemetry     GameTelemetry `json:"telemetry" binding:"required"`
	CustomerEmail string        `json:"customer_email"`
}

// DiscountOutcome is the linearized result of completing a session. Every
// finish call for the same session observes the same outcome.
type DiscountOutcome struct {
	DiscountEarned int        `json:"discount_earned"`
	DiscountCode   string     `json:"discount_code,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Message        string     `json:"message,omitempty"`
	RewardPending  bool       `json:"reward_pending,omitempty"`
}

// CodeDetailsResponse reports a code's state for downstream validation.
type CodeDetailsResponse struct {
	Code      string     `json:"code"`
	Percent   int        `json:"percent"`
	Usable    bool       `json:"usable"`
	IsUsed    bool       `json:"is_used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// OrderWebhookPayload is the order-completion notification from the commerce
// platform. Codes it references transition to used exactly once.
type OrderWebhookPayload struct {
	ShopDomain    string   `json:"shop_domain"`
	OrderID       string   `json:"order_id"`
	DiscountCodes []string `json:"discount_codes"`
}
