package service

import (
	"testing"

	"game-rewards/internal/model"
)

func TestResolveTier(t *testing.T) {
	tiers := []model.DiscountTier{
		{MinScore: 0, DiscountPercent: 0},
		{MinScore: 100, DiscountPercent: 10},
		{MinScore: 500, DiscountPercent: 25},
	}

	cases := []struct {
		score       int
		wantPercent int
		wantIndex   int
	}{
		{0, 0, 0},
		{99, 0, 0},
		{100, 10, 1},
		{499, 10, 1},
		{500, 25, 2},
		{10000, 25, 2},
	}

	for _, tc := range cases {
		tier, idx := ResolveTier(tc.score, tiers)
		if tier == nil {
			t.Fatalf("ResolveTier(%d) = nil, want tier", tc.score)
		}
		if tier.DiscountPercent != tc.wantPercent {
			t.Errorf("ResolveTier(%d) percent = %d, want %d", tc.score, tier.DiscountPercent, tc.wantPercent)
		}
		if idx != tc.wantIndex {
			t.Errorf("ResolveTier(%d) index = %d, want %d", tc.score, idx, tc.wantIndex)
		}
	}
}

func TestResolveTierBelowFirstThreshold(t *testing.T) {
	tiers := []model.DiscountTier{
		{MinScore: 100, DiscountPercent: 10},
		{MinScore: 300, DiscountPercent: 20},
	}

	tier, idx := ResolveTier(99, tiers)
	if tier != nil || idx != -1 {
		t.Errorf("ResolveTier(99) = (%v, %d), want (nil, -1)", tier, idx)
	}

	if tier, _ := ResolveTier(100, tiers); tier == nil || tier.DiscountPercent != 10 {
		t.Errorf("ResolveTier(100) = %v, want 10%% tier", tier)
	}
}
