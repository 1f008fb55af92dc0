package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DiscountRegistration is the price rule this service asks the commerce
// platform to honor for a single code.
type DiscountRegistration struct {
	Code      string
	Percent   int
	ExpiresAt time.Time
}

// CommerceClient registers discounts with the external commerce platform.
// This is the only outbound I/O in the issuance pipeline.
type CommerceClient interface {
	// RegisterDiscount creates a price rule and attaches the code to it,
	// returning the platform's price rule id.
	RegisterDiscount(ctx context.Context, shopDomain, accessToken string, reg *DiscountRegistration) (string, error)
}

// transientError marks a failure worth retrying (network faults, 5xx, 429).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether err is a retryable platform failure, however
// deeply wrapped.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// adminAPIClient talks to the platform's Admin REST API.
type adminAPIClient struct {
	httpClient *http.Client
	apiVersion string
	// baseURL overrides the per-shop admin host; used by tests.
	baseURL string
}

// NewAdminAPIClient creates a CommerceClient against the platform Admin API.
func NewAdminAPIClient(apiVersion string, timeout time.Duration) CommerceClient {
	return &adminAPIClient{
		httpClient: &http.Client{Timeout: timeout},
		apiVersion: apiVersion,
	}
}

// NewAdminAPIClientForTest points every shop at a fixed base URL.
func NewAdminAPIClientForTest(baseURL string) CommerceClient {
	return &adminAPIClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		apiVersion: "test",
		baseURL:    baseURL,
	}
}

func (c *adminAPIClient) shopURL(shopDomain, path string) string {
	if c.baseURL != "" {
		return c.baseURL + path
	}
	return fmt.Sprintf("https://%s/admin/api/%s%s", shopDomain, c.apiVersion, path)
}

type priceRulePayload struct {
	PriceRule struct {
		Title             string `json:"title"`
		TargetType        string `json:"target_type"`
		TargetSelection   string `json:"target_selection"`
		AllocationMethod  string `json:"allocation_method"`
		ValueType         string `json:"value_type"`
		Value             string `json:"value"`
		CustomerSelection string `json:"customer_selection"`
		UsageLimit        int    `json:"usage_limit"`
		OncePerCustomer   bool   `json:"once_per_customer"`
		StartsAt          string `json:"starts_at"`
		EndsAt            string `json:"ends_at"`
	} `json:"price_rule"`
}

type priceRuleResponse struct {
	PriceRule struct {
		ID int64 `json:"id"`
	} `json:"price_rule"`
}

type discountCodePayload struct {
	DiscountCode struct {
		Code string `json:"code"`
	} `json:"discount_code"`
}

func (c *adminAPIClient) RegisterDiscount(ctx context.Context, shopDomain, accessToken string, reg *DiscountRegistration) (string, error) {
	var rule priceRulePayload
	rule.PriceRule.Title = "Game reward " + reg.Code
	rule.PriceRule.TargetType = "line_item"
	rule.PriceRule.TargetSelection = "all"
	rule.PriceRule.AllocationMethod = "across"
	rule.PriceRule.ValueType = "percentage"
	rule.PriceRule.Value = fmt.Sprintf("-%d.0", reg.Percent)
	rule.PriceRule.CustomerSelection = "all"
	rule.PriceRule.UsageLimit = 1
	rule.PriceRule.OncePerCustomer = true
	rule.PriceRule.StartsAt = time.Now().UTC().Format(time.RFC3339)
	rule.PriceRule.EndsAt = reg.ExpiresAt.UTC().Format(time.RFC3339)

	var ruleResp priceRuleResponse
	if err := c.post(ctx, shopDomain, accessToken, "/price_rules.json", rule, &ruleResp); err != nil {
		return "", fmt.Errorf("create price rule: %w", err)
	}
	priceRuleID := fmt.Sprintf("%d", ruleResp.PriceRule.ID)

	var codeReq discountCodePayload
	codeReq.DiscountCode.Code = reg.Code
	path := fmt.Sprintf("/price_rules/%s/discount_codes.json", priceRuleID)
	if err := c.post(ctx, shopDomain, accessToken, path, codeReq, nil); err != nil {
		return "", fmt.Errorf("create discount code: %w", err)
	}

	return priceRuleID, nil
}

func (c *adminAPIClient) post(ctx context.Context, shopDomain, accessToken, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.shopURL(shopDomain, path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &transientError{err: fmt.Errorf("platform returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("platform returned status %d: %s", resp.StatusCode, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode platform response: %w", err)
		}
	}
	return nil
}
