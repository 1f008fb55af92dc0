// Package eligibility decides whether the game widget should be offered to a
// visitor at all. It is a pure function of config and visitor context so the
// storefront page-load path never touches backend state.
package eligibility

import (
	"hash/fnv"
	"strings"

	"game-rewards/internal/model"
)

// ShouldOffer reports whether the widget should be shown. It fails closed:
// disabled or invalid configuration always yields false.
func ShouldOffer(cfg *model.ShopConfig, ctx *model.VisitorContext) bool {
	if cfg == nil || ctx == nil {
		return false
	}
	if !cfg.IsEnabled {
		return false
	}
	if err := cfg.Validate(); err != nil {
		return false
	}
	if !inRollout(cfg, ctx) {
		return false
	}
	if !matchesDevice(cfg.DeviceTargeting, ctx.Device) {
		return false
	}
	return matchesPage(cfg, ctx)
}

// inRollout buckets the visitor by a stable hash of (shop, identity) so the
// same visitor gets the same answer on every page load. Test mode bypasses
// the percentage so merchants can verify their configuration.
func inRollout(cfg *model.ShopConfig, ctx *model.VisitorContext) bool {
	if cfg.TestMode {
		return true
	}
	if cfg.UserPercentage >= 100 {
		return true
	}
	if cfg.UserPercentage <= 0 {
		return false
	}
	identity := model.IdentityKey(ctx.CustomerID, "", ctx.VisitorID)
	return rolloutBucket(ctx.ShopDomain, identity) < cfg.UserPercentage
}

// rolloutBucket maps (shop, identity) onto [0,100).
func rolloutBucket(shopDomain, identity string) int {
	h := fnv.New32a()
	h.Write([]byte(shopDomain))
	h.Write([]byte{0})
	h.Write([]byte(identity))
	return int(h.Sum32() % 100)
}

func matchesDevice(targeting, device string) bool {
	switch targeting {
	case "", model.DeviceAll:
		return true
	default:
		return targeting == device
	}
}

func matchesPage(cfg *model.ShopConfig, ctx *model.VisitorContext) bool {
	switch cfg.ShowOn {
	case "", model.ShowOnAll:
		return true
	case model.ShowOnProduct, model.ShowOnCollection:
		return ctx.PageType == cfg.ShowOn
	case model.ShowOnCustomPages:
		for _, page := range cfg.CustomPages {
			if pageMatches(page, ctx.PageURL) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// pageMatches compares a configured page path against the visited URL,
// ignoring query strings and trailing slashes.
func pageMatches(configured, visited string) bool {
	trim := func(s string) string {
		if i := strings.IndexByte(s, '?'); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSuffix(s, "/")
	}
	c, v := trim(configured), trim(visited)
	return c != "" && (c == v || strings.HasSuffix(v, c))
}
