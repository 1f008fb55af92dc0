package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"game-rewards/internal/model"
	"game-rewards/internal/repository"
)

var (
	ErrShopDisabled    = errors.New("shop is disabled")
	ErrRateLimited     = errors.New("no plays remaining")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session can no longer be completed")
	ErrInvalidScore    = errors.New("invalid score")
)

// Issuer mints a discount code for a completed session. Implemented by the
// issuer package; any error means the reward could not be minted and the
// outcome degrades to reward-pending.
type Issuer interface {
	Issue(ctx context.Context, shopDomain string, tier model.DiscountTier, tierIndex int, sessionID string, expiresAt time.Time) (*model.DiscountCode, error)
}

// PlayService owns the play-session lifecycle: rate-limited session creation
// and idempotent completion with discount issuance.
type PlayService struct {
	configRepo  repository.ConfigRepository
	sessionRepo repository.SessionRepository
	counterRepo repository.CounterRepository
	issuer      Issuer

	now func() time.Time
}

// NewPlayService creates a new play service
func NewPlayService(configRepo repository.ConfigRepository, sessionRepo repository.SessionRepository, counterRepo repository.CounterRepository, issuer Issuer) *PlayService {
	return &PlayService{
		configRepo:  configRepo,
		sessionRepo: sessionRepo,
		counterRepo: counterRepo,
		issuer:      issuer,
		now:         time.Now,
	}
}

// loadConfig fetches and validates the shop config, failing closed to
// disabled on a missing or malformed document.
func (s *PlayService) loadConfig(ctx context.Context, shopDomain string) (*model.ShopConfig, error) {
	cfg, err := s.configRepo.GetShopConfig(ctx, shopDomain)
	if err != nil {
		if errors.Is(err, repository.ErrShopNotFound) {
			return nil, ErrShopDisabled
		}
		return nil, err
	}
	if !cfg.IsEnabled {
		return nil, ErrShopDisabled
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"shop_domain": shopDomain,
		}).WithError(err).Error("Start: invalid shop config, failing closed")
		return nil, ErrShopDisabled
	}
	return cfg, nil
}

// Start creates a Pending play session after atomically consuming the play
// caps. The eligibility decision made client-side is never trusted: the
// enabled check runs again here.
func (s *PlayService) Start(ctx context.Context, req *model.StartSessionRequest) (*model.PlaySession, int, error) {
	cfg, err := s.loadConfig(ctx, req.ShopDomain)
	if err != nil {
		return nil, 0, err
	}

	now := s.now()
	identity := model.IdentityKey(req.CustomerID, req.CustomerEmail, req.VisitorID)
	dayKey := model.DayKey(now)

	dailyLimit := cfg.MaxPlaysPerDay
	if cfg.CustomerLimitScope == model.ScopeDaily && cfg.MaxPlaysPerCustomer > 0 && (dailyLimit <= 0 || cfg.MaxPlaysPerCustomer < dailyLimit) {
		dailyLimit = cfg.MaxPlaysPerCustomer
	}

	remaining := -1
	if dailyLimit > 0 {
		count, err := s.counterRepo.Increment(ctx, req.ShopDomain, identity, dayKey, dailyLimit)
		if err != nil {
			if errors.Is(err, repository.ErrLimitExceeded) {
				return nil, 0, ErrRateLimited
			}
			return nil, 0, fmt.Errorf("increment daily counter: %w", err)
		}
		remaining = dailyLimit - count
	}

	// Lifetime customer cap only applies to identified customers; anonymous
	// visitors cannot be tracked across days.
	if cfg.CustomerLimitScope == model.ScopeLifetime && cfg.MaxPlaysPerCustomer > 0 && (req.CustomerID != "" || req.CustomerEmail != "") {
		count, err := s.counterRepo.Increment(ctx, req.ShopDomain, identity, model.LifetimePeriodKey, cfg.MaxPlaysPerCustomer)
		if err != nil {
			// Roll back the daily increment so the rejected request does not
			// consume a play.
			if dailyLimit > 0 {
				if derr := s.counterRepo.Decrement(ctx, req.ShopDomain, identity, dayKey); derr != nil {
					logrus.WithError(derr).Error("Start: failed to roll back daily counter")
				}
			}
			if errors.Is(err, repository.ErrLimitExceeded) {
				return nil, 0, ErrRateLimited
			}
			return nil, 0, fmt.Errorf("increment lifetime counter: %w", err)
		}
		if lifetimeRemaining := cfg.MaxPlaysPerCustomer - count; remaining < 0 || lifetimeRemaining < remaining {
			remaining = lifetimeRemaining
		}
	}

	session := &model.PlaySession{
		SessionID:     uuid.NewString(),
		ShopDomain:    req.ShopDomain,
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		Source:        req.Source,
		Referrer:      req.Referrer,
		State:         model.StatePending,
		CreatedAt:     now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, 0, fmt.Errorf("create session: %w", err)
	}

	return session, remaining, nil
}

// Finish accepts a reported final score exactly once per session. Repeated
// calls replay the first outcome, which makes client retry-on-timeout safe.
func (s *PlayService) Finish(ctx context.Context, req *model.FinishSessionRequest) (*model.DiscountOutcome, error) {
	score := *req.FinalScore
	if score < 0 {
		return nil, ErrInvalidScore
	}

	session, err := s.sessionRepo.GetBySessionID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	cfg, err := s.configRepo.GetShopConfig(ctx, session.ShopDomain)
	if err != nil {
		return nil, fmt.Errorf("load shop config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("shop config: %w", err)
	}

	if !plausibleScore(score, cfg, &req.Telemetry) {
		return nil, ErrInvalidScore
	}

	fromStates := []model.SessionState{model.StatePending}
	if cfg.LateFinishPolicy == model.LateFinishAccept {
		fromStates = append(fromStates, model.StateExpired)
	}

	now := s.now()
	completed, err := s.sessionRepo.Complete(ctx, req.SessionID, fromStates, score, now)
	if err != nil {
		if errors.Is(err, repository.ErrNoTransition) {
			return s.replayOutcome(ctx, req.SessionID)
		}
		return nil, fmt.Errorf("complete session: %w", err)
	}

	outcome := s.computeOutcome(ctx, cfg, completed, score)
	if err := s.sessionRepo.RecordOutcome(ctx, req.SessionID, outcome); err != nil {
		// The transition already happened; losing the outcome record only
		// degrades later replays, so log and return the computed outcome.
		logrus.WithFields(logrus.Fields{
			"session_id": req.SessionID,
		}).WithError(err).Error("Finish: failed to record outcome")
	}
	return outcome, nil
}

// computeOutcome resolves the tier and mints the reward for the winning
// finish call.
func (s *PlayService) computeOutcome(ctx context.Context, cfg *model.ShopConfig, session *model.PlaySession, score int) *model.DiscountOutcome {
	if score < cfg.MinScoreForDiscount {
		return &model.DiscountOutcome{}
	}
	tier, tierIndex := ResolveTier(score, cfg.DiscountTiers)
	if tier == nil {
		return &model.DiscountOutcome{}
	}

	expiresAt := session.CompletedAt.Add(time.Duration(cfg.DiscountExpiryHours) * time.Hour)
	code, err := s.issuer.Issue(ctx, session.ShopDomain, *tier, tierIndex, session.SessionID, expiresAt)
	if err != nil {
		// The play result is final even when the reward could not be minted;
		// the session stays Completed and the client gets an honest
		// reward-pending outcome instead of a generic failure.
		logrus.WithFields(logrus.Fields{
			"shop_domain": session.ShopDomain,
			"session_id":  session.SessionID,
			"percent":     tier.DiscountPercent,
		}).WithError(err).Error("Finish: discount issuance failed")
		return &model.DiscountOutcome{
			DiscountEarned: tier.DiscountPercent,
			Message:        tier.Message,
			RewardPending:  true,
		}
	}

	return &model.DiscountOutcome{
		DiscountEarned: code.Percent,
		DiscountCode:   code.Code,
		ExpiresAt:      &code.ExpiresAt,
		Message:        tier.Message,
	}
}

// replayOutcome serves finish calls that lost the completion race or are
// client retries. The first writer's outcome is the only outcome.
func (s *PlayService) replayOutcome(ctx context.Context, sessionID string) (*model.DiscountOutcome, error) {
	var session *model.PlaySession
	var err error

	// The winner records its outcome immediately after the transition; give a
	// concurrent loser a few brief re-reads to observe it.
	for attempt := 0; attempt < 3; attempt++ {
		session, err = s.sessionRepo.GetBySessionID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, err
		}
		if session.State != model.StateCompleted {
			if session.State == model.StateExpired {
				// Refusing a late finish pins the session as Abandoned, a
				// terminal state that can never complete.
				if aerr := s.sessionRepo.MarkAbandoned(ctx, sessionID); aerr != nil {
					logrus.WithFields(logrus.Fields{
						"session_id": sessionID,
					}).WithError(aerr).Error("Finish: failed to mark session abandoned")
				}
			}
			return nil, ErrSessionExpired
		}
		if session.OutcomeRecorded {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	if !session.OutcomeRecorded {
		// Concurrent winner has not recorded yet; degrade the same way an
		// issuance failure does rather than block the caller.
		return &model.DiscountOutcome{
			DiscountEarned: session.DiscountPercent,
			RewardPending:  true,
		}, nil
	}

	return &model.DiscountOutcome{
		DiscountEarned: session.DiscountPercent,
		DiscountCode:   session.DiscountCode,
		ExpiresAt:      session.CodeExpiresAt,
		RewardPending:  session.RewardPending,
	}, nil
}

// plausibleScore checks the reported score against the per-game rate ceiling
// derived from telemetry. Implausible scores are rejected outright, never
// clamped, so the anti-abuse boundary stays visible.
func plausibleScore(score int, cfg *model.ShopConfig, t *model.GameTelemetry) bool {
	if t.DurationMs <= 0 {
		return false
	}
	rate := cfg.ScoreCeiling(t.GameType)
	if rate <= 0 {
		return true
	}
	seconds := (t.DurationMs + 999) / 1000
	return int64(score) <= int64(rate)*seconds
}
