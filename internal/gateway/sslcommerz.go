package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nhasan-dev/bazar-orders-service/internal/logger"
)

// Verification is the validator API's answer for one val_id. Status is
// matched as an explicit string by the caller; nothing here coerces it to a
// boolean.
type Verification struct {
	Status     string `json:"status"`
	TranID     string `json:"tran_id"`
	ValID      string `json:"val_id"`
	Amount     string `json:"amount"`
	BankTranID string `json:"bank_tran_id"`
}

// Validated reports whether the gateway itself vouches for the payment.
// SSLCommerz answers VALID on first validation and VALIDATED on re-checks.
func (v *Verification) Validated() bool {
	s := strings.ToUpper(v.Status)
	return s == "VALID" || s == "VALIDATED"
}

type Verifier interface {
	Verify(ctx context.Context, valID string) (*Verification, error)
}

type SSLCommerzClient struct {
	validatorURL string
	storeID      string
	storePasswd  string
	httpc        *http.Client
}

func NewSSLCommerzClient(validatorURL, storeID, storePasswd string, timeout time.Duration) *SSLCommerzClient {
	return &SSLCommerzClient{
		validatorURL: validatorURL,
		storeID:      storeID,
		storePasswd:  storePasswd,
		httpc:        &http.Client{Timeout: timeout},
	}
}

// Verify calls the validator endpoint for the given val_id. Transient
// transport failures and 5xx answers are retried a bounded number of times;
// after that the error is returned and the caller fails closed.
func (c *SSLCommerzClient) Verify(ctx context.Context, valID string) (*Verification, error) {
	q := url.Values{}
	q.Set("val_id", valID)
	q.Set("store_id", c.storeID)
	q.Set("store_passwd", c.storePasswd)
	q.Set("format", "json")
	reqURL := c.validatorURL + "?" + q.Encode()

	var result Verification
	backoff := retry.WithMaxRetries(2, retry.NewExponential(300*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			logger.Warn("validator call failed", "err", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			logger.Warn("validator returned server error", "code", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("validator http %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("validator http %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("validator response decode: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: verify val_id %s: %w", valID, err)
	}
	return &result, nil
}
