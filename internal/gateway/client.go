// Package gateway implements the payment provider boundary over HTTP.
//
// The provider's contract: POST /v1/intents creates a payment intent and
// returns a provider reference; POST /v1/intents/{ref}/void cancels a
// not-yet-captured intent. Capture results arrive asynchronously on the
// service's callback endpoint, at-least-once and unordered.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/nghednh/flowershop-checkout/internal/domain/order"
)

var _ order.Gateway = (*Client)(nil)

// Config holds the provider connection settings.
type Config struct {
	BaseURL string
	// APIKey authenticates this service to the provider.
	APIKey string
	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration
	// MaxElapsed bounds the whole retry sequence for one call. A call that
	// cannot complete within this window is reported as failed; retrying it
	// later is safe because the order ID is the idempotency key.
	MaxElapsed time.Duration
}

// Client talks to the payment provider with bounded exponential retries.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a gateway Client.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type initiateRequest struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}

type initiateResponse struct {
	ProviderRef string `json:"provider_ref"`
}

type voidResponse struct {
	Status string `json:"status"`
}

// Initiate creates a payment intent for the order. The order ID travels as
// the Idempotency-Key header, so provider-side the call is exactly-once no
// matter how many attempts the retry loop makes.
func (c *Client) Initiate(ctx context.Context, orderID string, amount decimal.Decimal) (string, error) {
	body, err := json.Marshal(initiateRequest{OrderID: orderID, Amount: amount})
	if err != nil {
		return "", errors.Wrap(err, "marshal initiate request")
	}

	var ref string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/v1/intents", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Idempotency-Key", orderID)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return errors.Errorf("provider returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return backoff.Permanent(errors.Errorf("provider rejected intent: %d", resp.StatusCode))
		}

		var out initiateResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
			return errors.Wrap(err, "decode intent response")
		}
		if out.ProviderRef == "" {
			return backoff.Permanent(errors.New("provider returned empty reference"))
		}
		ref = out.ProviderRef
		return nil
	}

	if err := backoff.Retry(operation, c.newBackOff(ctx)); err != nil {
		return "", errors.Wrap(err, "initiate intent")
	}
	return ref, nil
}

// Void cancels a not-yet-captured intent. When the provider answers 409 with
// a captured status, order.ErrAlreadyCaptured is returned so the caller can
// resolve the cancel-vs-capture race in the payment's favor.
func (c *Client) Void(ctx context.Context, providerRef string) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/v1/intents/"+providerRef+"/void", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
			return nil
		case resp.StatusCode == http.StatusConflict:
			var out voidResponse
			if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err == nil && out.Status == "captured" {
				return backoff.Permanent(order.ErrAlreadyCaptured)
			}
			return backoff.Permanent(errors.Errorf("void conflict for %s", providerRef))
		case resp.StatusCode >= 500:
			return errors.Errorf("provider returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(errors.Errorf("void rejected: %d", resp.StatusCode))
		}
	}

	err := backoff.Retry(operation, c.newBackOff(ctx))
	if errors.Is(err, order.ErrAlreadyCaptured) {
		return order.ErrAlreadyCaptured
	}
	if err != nil {
		return errors.Wrap(err, "void intent")
	}
	return nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.cfg.MaxElapsed
	return backoff.WithContext(bo, ctx)
}
