package service

import "game-rewards/internal/model"

// ResolveTier selects the discount tier with the largest min score that the
// final score meets or exceeds. Returns the tier and its index, or (nil, -1)
// when the score earns no discount. The tier table is validated at config
// load time, so it is ordered and non-empty here.
func ResolveTier(score int, tiers []model.DiscountTier) (*model.DiscountTier, int) {
	best := -1
	for i, tier := range tiers {
		if tier.MinScore > score {
			break
		}
		best = i
	}
	if best < 0 {
		return nil, -1
	}
	return &tiers[best], best
}
