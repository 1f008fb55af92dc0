package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"game-rewards/internal/model"
	"game-rewards/internal/repository"
)

// fakeIssuer satisfies Issuer without touching the network.
type fakeIssuer struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeIssuer) Issue(ctx context.Context, shopDomain string, tier model.DiscountTier, tierIndex int, sessionID string, expiresAt time.Time) (*model.DiscountCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("platform down")
	}
	return &model.DiscountCode{
		Code:       fmt.Sprintf("PLAY-TEST%04d", f.calls),
		ShopDomain: shopDomain,
		SessionID:  sessionID,
		Percent:    tier.DiscountPercent,
		TierIndex:  tierIndex,
		Status:     model.CodeActive,
		ExpiresAt:  expiresAt,
	}, nil
}

const testShop = "test-shop.example.com"

func testConfig() *model.ShopConfig {
	return &model.ShopConfig{
		ShopDomain:          testShop,
		IsEnabled:           true,
		MinScoreForDiscount: 100,
		MaxPlaysPerDay:      3,
		DiscountTiers: []model.DiscountTier{
			{MinScore: 100, DiscountPercent: 10},
			{MinScore: 300, DiscountPercent: 20},
		},
		DiscountExpiryHours: 24,
		MaxScorePerSecond:   100,
		UserPercentage:      100,
	}
}

func newTestService(cfg *model.ShopConfig) (*PlayService, *repository.MemoryStore, *fakeIssuer) {
	store := repository.NewMemoryStore()
	store.PutShopConfig(cfg)
	iss := &fakeIssuer{}
	svc := NewPlayService(store, store, store, iss)
	return svc, store, iss
}

func startReq() *model.StartSessionRequest {
	return &model.StartSessionRequest{
		ShopDomain: testShop,
		VisitorID:  "visitor-1",
	}
}

func finishReq(sessionID string, score int) *model.FinishSessionRequest {
	return &model.FinishSessionRequest{
		SessionID:  sessionID,
		FinalScore: &score,
		Telemetry: model.GameTelemetry{
			GameType:   "snake",
			DurationMs: 10_000,
		},
	}
}

func TestStartRejectsDisabledShop(t *testing.T) {
	cfg := testConfig()
	cfg.IsEnabled = false
	svc, _, _ := newTestService(cfg)

	if _, _, err := svc.Start(context.Background(), startReq()); !errors.Is(err, ErrShopDisabled) {
		t.Errorf("Start on disabled shop = %v, want ErrShopDisabled", err)
	}
}

func TestStartFailsClosedOnMalformedConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DiscountTiers = []model.DiscountTier{
		{MinScore: 300, DiscountPercent: 10},
		{MinScore: 100, DiscountPercent: 20},
	}
	svc, _, _ := newTestService(cfg)

	if _, _, err := svc.Start(context.Background(), startReq()); !errors.Is(err, ErrShopDisabled) {
		t.Errorf("Start with malformed config = %v, want ErrShopDisabled", err)
	}
}

func TestStartReportsPlaysRemaining(t *testing.T) {
	svc, _, _ := newTestService(testConfig())

	_, remaining, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if remaining != 2 {
		t.Errorf("plays remaining after first start = %d, want 2", remaining)
	}
}

// Exactly K of N concurrent starts may succeed when the cap is K, no matter
// how the requests interleave.
func TestConcurrentStartsRespectDailyCap(t *testing.T) {
	svc, _, _ := newTestService(testConfig())

	const requests = 20
	var (
		wg          sync.WaitGroup
		successes   int64
		rateLimited int64
		mu          sync.Mutex
	)

	wg.Add(requests)
	for i := 0; i < requests; i++ {
		go func() {
			defer wg.Done()
			_, _, err := svc.Start(context.Background(), startReq())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrRateLimited):
				rateLimited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 3 {
		t.Errorf("successes = %d, want exactly 3", successes)
	}
	if rateLimited != requests-3 {
		t.Errorf("rate limited = %d, want %d", rateLimited, requests-3)
	}
}

func TestLifetimeCapRollsBackDailyCounter(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPlaysPerDay = 5
	cfg.MaxPlaysPerCustomer = 2
	cfg.CustomerLimitScope = model.ScopeLifetime
	svc, store, _ := newTestService(cfg)

	req := startReq()
	req.CustomerID = "cust-42"

	for i := 0; i < 2; i++ {
		if _, _, err := svc.Start(context.Background(), req); err != nil {
			t.Fatalf("start %d: %v", i+1, err)
		}
	}
	if _, _, err := svc.Start(context.Background(), req); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third start = %v, want ErrRateLimited", err)
	}

	// The rejected request must not consume a daily play.
	count, err := store.Count(context.Background(), testShop, "cust-42", model.DayKey(time.Now()))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("daily counter after rollback = %d, want 2", count)
	}
}

func TestFinishIssuesTieredDiscount(t *testing.T) {
	svc, _, _ := newTestService(testConfig())

	session, _, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcome, err := svc.Finish(context.Background(), finishReq(session.SessionID, 350))
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if outcome.DiscountEarned != 20 {
		t.Errorf("discount earned = %d, want 20", outcome.DiscountEarned)
	}
	if outcome.DiscountCode == "" {
		t.Error("expected a discount code")
	}
	if outcome.ExpiresAt == nil {
		t.Error("expected an expiry timestamp")
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	svc, _, iss := newTestService(testConfig())

	session, _, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	first, err := svc.Finish(context.Background(), finishReq(session.SessionID, 150))
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if first.DiscountCode == "" {
		t.Fatal("first finish should have earned a code")
	}

	second, err := svc.Finish(context.Background(), finishReq(session.SessionID, 150))
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if second.DiscountCode != first.DiscountCode {
		t.Errorf("replay code = %q, want %q", second.DiscountCode, first.DiscountCode)
	}

	// A different score after completion is ignored; the original outcome
	// still wins.
	third, err := svc.Finish(context.Background(), finishReq(session.SessionID, 999))
	if err != nil {
		t.Fatalf("third finish: %v", err)
	}
	if third.DiscountCode != first.DiscountCode || third.DiscountEarned != first.DiscountEarned {
		t.Errorf("third finish = %+v, want original outcome %+v", third, first)
	}

	if iss.calls != 1 {
		t.Errorf("issuer calls = %d, want 1", iss.calls)
	}
}

func TestConcurrentFinishesLinearize(t *testing.T) {
	svc, _, iss := newTestService(testConfig())

	session, _, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	const callers = 10
	outcomes := make([]*model.DiscountOutcome, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			outcome, err := svc.Finish(context.Background(), finishReq(session.SessionID, 150))
			if err != nil {
				t.Errorf("finish %d: %v", i, err)
				return
			}
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	if iss.calls != 1 {
		t.Fatalf("issuer calls = %d, want 1", iss.calls)
	}
	var code string
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		if o.RewardPending {
			// A loser may observe the winner mid-write; that is the
			// documented degraded outcome, not a second code.
			continue
		}
		if code == "" {
			code = o.DiscountCode
		}
		if o.DiscountCode != code {
			t.Errorf("observed two codes: %q and %q", o.DiscountCode, code)
		}
	}
	if code == "" {
		t.Error("no caller observed the issued code")
	}
}

func TestFinishBelowThresholdEarnsNothing(t *testing.T) {
	svc, _, iss := newTestService(testConfig())

	session, _, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcome, err := svc.Finish(context.Background(), finishReq(session.SessionID, 50))
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if outcome.DiscountEarned != 0 || outcome.DiscountCode != "" {
		t.Errorf("outcome = %+v, want no discount", outcome)
	}
	if iss.calls != 0 {
		t.Errorf("issuer calls = %d, want 0", iss.calls)
	}

	// Replay of a no-discount outcome is also stable.
	replay, err := svc.Finish(context.Background(), finishReq(session.SessionID, 50))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.DiscountEarned != 0 || replay.DiscountCode != "" {
		t.Errorf("replay = %+v, want no discount", replay)
	}
}

func TestFinishRejectsImplausibleScore(t *testing.T) {
	svc, _, _ := newTestService(testConfig())

	session, _, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 10 seconds at 100 points/second caps plausible scores at 1000.
	req := finishReq(session.SessionID, 5000)
	if _, err := svc.Finish(context.Background(), req); !errors.Is(err, ErrInvalidScore) {
		t.Errorf("implausible score = %v, want ErrInvalidScore", err)
	}

	// Rejection must not complete the session; a plausible retry still works.
	outcome, err := svc.Finish(context.Background(), finishReq(session.SessionID, 150))
	if err != nil {
		t.Fatalf("plausible finish after rejection: %v", err)
	}
	if outcome.DiscountEarned != 10 {
		t.Errorf("discount earned = %d, want 10", outcome.DiscountEarned)
	}
}

func TestFinishUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(testConfig())
	if _, err := svc.Finish(context.Background(), finishReq("no-such-session", 100)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session = %v, want ErrSessionNotFound", err)
	}
}

func TestLateFinishPolicy(t *testing.T) {
	t.Run("accept", func(t *testing.T) {
		svc, store, _ := newTestService(testConfig())
		session, _, err := svc.Start(context.Background(), startReq())
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := store.ExpireStale(context.Background(), time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("expire: %v", err)
		}

		outcome, err := svc.Finish(context.Background(), finishReq(session.SessionID, 150))
		if err != nil {
			t.Fatalf("late finish under accept policy: %v", err)
		}
		if outcome.DiscountEarned != 10 {
			t.Errorf("discount earned = %d, want 10", outcome.DiscountEarned)
		}
	})

	t.Run("reject", func(t *testing.T) {
		cfg := testConfig()
		cfg.LateFinishPolicy = model.LateFinishReject
		svc, store, _ := newTestService(cfg)
		session, _, err := svc.Start(context.Background(), startReq())
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := store.ExpireStale(context.Background(), time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("expire: %v", err)
		}

		if _, err := svc.Finish(context.Background(), finishReq(session.SessionID, 150)); !errors.Is(err, ErrSessionExpired) {
			t.Errorf("late finish under reject policy = %v, want ErrSessionExpired", err)
		}

		// The refusal pins the session as Abandoned, which is terminal:
		// further finish calls fail even though the state changed.
		stored, err := store.GetBySessionID(context.Background(), session.SessionID)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if stored.State != model.StateAbandoned {
			t.Errorf("session state after refused late finish = %q, want abandoned", stored.State)
		}
		if _, err := svc.Finish(context.Background(), finishReq(session.SessionID, 150)); !errors.Is(err, ErrSessionExpired) {
			t.Errorf("finish on abandoned session = %v, want ErrSessionExpired", err)
		}
	})
}

func TestIssuerFailureDegradesToRewardPending(t *testing.T) {
	svc, store, iss := newTestService(testConfig())
	iss.fail = true

	session, _, err := svc.Start(context.Background(), startReq())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcome, err := svc.Finish(context.Background(), finishReq(session.SessionID, 350))
	if err != nil {
		t.Fatalf("Finish with failing issuer: %v", err)
	}
	if !outcome.RewardPending {
		t.Error("expected reward_pending outcome")
	}
	if outcome.DiscountEarned != 20 {
		t.Errorf("discount earned = %d, want 20", outcome.DiscountEarned)
	}
	if outcome.DiscountCode != "" {
		t.Errorf("code = %q, want none", outcome.DiscountCode)
	}

	// The play result is final: the session stays Completed and replays keep
	// returning the pending outcome instead of re-minting.
	stored, err := store.GetBySessionID(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.State != model.StateCompleted {
		t.Errorf("session state = %q, want completed", stored.State)
	}

	iss.fail = false
	replay, err := svc.Finish(context.Background(), finishReq(session.SessionID, 350))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.RewardPending || replay.DiscountCode != "" {
		t.Errorf("replay = %+v, want original reward-pending outcome", replay)
	}
	if iss.calls != 1 {
		t.Errorf("issuer calls = %d, want 1", iss.calls)
	}
}

// The end-to-end merchant scenario: three plays scoring 50, 150 and 350
// against tiers {100:10%, 300:20%} and a daily cap of 3.
func TestThreePlayScenario(t *testing.T) {
	svc, _, _ := newTestService(testConfig())
	ctx := context.Background()

	scores := []int{50, 150, 350}
	wantPercents := []int{0, 10, 20}

	for i, score := range scores {
		session, _, err := svc.Start(ctx, startReq())
		if err != nil {
			t.Fatalf("start %d: %v", i+1, err)
		}
		outcome, err := svc.Finish(ctx, finishReq(session.SessionID, score))
		if err != nil {
			t.Fatalf("finish %d: %v", i+1, err)
		}
		if outcome.DiscountEarned != wantPercents[i] {
			t.Errorf("play %d earned %d%%, want %d%%", i+1, outcome.DiscountEarned, wantPercents[i])
		}
		if wantPercents[i] > 0 && outcome.DiscountCode == "" {
			t.Errorf("play %d earned no code", i+1)
		}
	}

	if _, _, err := svc.Start(ctx, startReq()); !errors.Is(err, ErrRateLimited) {
		t.Errorf("fourth start = %v, want ErrRateLimited", err)
	}
}
