package repository

import (
	"context"
	"game-rewards/internal/model"
)

// ConfigRepository reads the per-shop configuration written by the merchant
// dashboard. This core never mutates it.
type ConfigRepository interface {
	// GetShopConfig returns the shop's game configuration.
	GetShopConfig(ctx context.Context, shopDomain string) (*model.ShopConfig, error)

	// GetShopRecord returns the shop's install record, including the Admin
	// API access token.
	GetShopRecord(ctx context.Context, shopDomain string) (*model.ShopRecord, error)
}
