// Package webhook receives order-completion notifications from the commerce
// platform and retires the discount codes they redeemed.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"game-rewards/internal/model"
	"game-rewards/internal/repository"
)

// VerifySignature checks the platform's HMAC-SHA256 signature over the raw
// request body. Constant-time comparison; an empty signature never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// OrderIntake marks discount codes used when orders complete.
type OrderIntake struct {
	codeRepo repository.CodeRepository

	now func() time.Time
}

// NewOrderIntake creates a new order webhook intake
func NewOrderIntake(codeRepo repository.CodeRepository) *OrderIntake {
	return &OrderIntake{
		codeRepo: codeRepo,
		now:      time.Now,
	}
}

// HandleOrderCompleted transitions each referenced code to used. The
// transition happens at most once per code; replayed webhook deliveries and
// codes this service never issued are ignored. Returns the number of codes
// marked.
func (s *OrderIntake) HandleOrderCompleted(ctx context.Context, payload *model.OrderWebhookPayload) (int, error) {
	marked := 0
	usedAt := s.now()

	for _, code := range payload.DiscountCodes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		err := s.codeRepo.MarkUsed(ctx, payload.ShopDomain, code, usedAt)
		if err != nil {
			if errors.Is(err, repository.ErrCodeNotUsable) {
				// Not ours, already used, or expired; webhook deliveries
				// retry, so this is routine.
				continue
			}
			return marked, err
		}
		logrus.WithFields(logrus.Fields{
			"shop_domain": payload.ShopDomain,
			"order_id":    payload.OrderID,
			"code":        code,
		}).Info("order webhook: discount code used")
		marked++
	}

	return marked, nil
}
