// Package issuer allocates single-use discount codes and registers them with
// the external commerce platform.
package issuer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"game-rewards/internal/model"
	"game-rewards/internal/repository"
)

// ErrIssuerUnavailable means the commerce platform could not register the
// discount within the retry budget. The play result stands; only the reward
// is missing.
var ErrIssuerUnavailable = errors.New("discount issuer unavailable")

const (
	codePrefix  = "PLAY-"
	codeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength  = 8

	// maxGenerateAttempts bounds the uniqueness check-and-retry loop.
	maxGenerateAttempts = 5
)

// DiscountIssuer mints codes with a two-phase write: persist as pending,
// register with the platform, then activate. A crash between the phases
// leaves a pending record for the reconciliation sweep, never an active code
// the platform does not honor.
type DiscountIssuer struct {
	codeRepo   repository.CodeRepository
	configRepo repository.ConfigRepository
	client     CommerceClient
	maxRetries uint64

	now func() time.Time
}

// NewDiscountIssuer creates a new discount issuer
func NewDiscountIssuer(codeRepo repository.CodeRepository, configRepo repository.ConfigRepository, client CommerceClient, maxRetries uint64) *DiscountIssuer {
	return &DiscountIssuer{
		codeRepo:   codeRepo,
		configRepo: configRepo,
		client:     client,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Issue allocates a unique code for the session and registers it with the
// platform. A session that already owns an active code gets that code back; a
// leftover pending code (crash between persist and registration) is resumed
// rather than reallocated, since the session_id unique index would reject any
// second code for the session.
func (i *DiscountIssuer) Issue(ctx context.Context, shopDomain string, tier model.DiscountTier, tierIndex int, sessionID string, expiresAt time.Time) (*model.DiscountCode, error) {
	var code *model.DiscountCode
	existing, err := i.codeRepo.GetSessionCode(ctx, sessionID)
	switch {
	case err == nil && existing.Status == model.CodeActive:
		return existing, nil
	case err == nil:
		code = existing
	case !errors.Is(err, repository.ErrCodeNotFound):
		return nil, fmt.Errorf("lookup session code: %w", err)
	}

	record, err := i.configRepo.GetShopRecord(ctx, shopDomain)
	if err != nil {
		return nil, fmt.Errorf("load shop record: %w", err)
	}

	if code == nil {
		code, err = i.allocateCode(ctx, shopDomain, tier, tierIndex, sessionID, expiresAt)
		if err != nil {
			return nil, err
		}
	}

	priceRuleID, err := i.register(ctx, shopDomain, record.AccessToken, code)
	if err != nil {
		// Terminal registration failure: remove the pending record so the
		// code string is never shown to a customer the platform won't honor.
		if derr := i.codeRepo.DeletePending(ctx, shopDomain, code.Code); derr != nil {
			logrus.WithFields(logrus.Fields{
				"shop_domain": shopDomain,
				"code":        code.Code,
			}).WithError(derr).Error("Issue: failed to void pending code")
		}
		return nil, fmt.Errorf("%w: %v", ErrIssuerUnavailable, err)
	}

	if err := i.codeRepo.Activate(ctx, shopDomain, code.Code, priceRuleID); err != nil {
		return nil, fmt.Errorf("activate code: %w", err)
	}
	code.Status = model.CodeActive
	code.PriceRuleID = priceRuleID
	return code, nil
}

// allocateCode generates and persists a shop-unique pending code, retrying on
// collisions a bounded number of times.
func (i *DiscountIssuer) allocateCode(ctx context.Context, shopDomain string, tier model.DiscountTier, tierIndex int, sessionID string, expiresAt time.Time) (*model.DiscountCode, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		text, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		code := &model.DiscountCode{
			Code:       text,
			ShopDomain: shopDomain,
			SessionID:  sessionID,
			Percent:    tier.DiscountPercent,
			TierIndex:  tierIndex,
			Status:     model.CodePending,
			CreatedAt:  i.now(),
			ExpiresAt:  expiresAt,
		}
		err = i.codeRepo.InsertPending(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return nil, fmt.Errorf("persist pending code: %w", err)
		}
	}
	return nil, fmt.Errorf("could not allocate a unique code after %d attempts", maxGenerateAttempts)
}

// register calls the platform with bounded exponential backoff. Transient
// failures retry; anything else aborts immediately.
func (i *DiscountIssuer) register(ctx context.Context, shopDomain, accessToken string, code *model.DiscountCode) (string, error) {
	var priceRuleID string

	operation := func() error {
		id, err := i.client.RegisterDiscount(ctx, shopDomain, accessToken, &DiscountRegistration{
			Code:      code.Code,
			Percent:   code.Percent,
			ExpiresAt: code.ExpiresAt,
		})
		if err != nil {
			if IsTransient(err) {
				logrus.WithFields(logrus.Fields{
					"shop_domain": shopDomain,
					"code":        code.Code,
				}).WithError(err).Warn("Issue: transient platform failure, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		priceRuleID = id
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), i.maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return priceRuleID, nil
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		buf[i] = codeCharset[n.Int64()]
	}
	return codePrefix + string(buf), nil
}
