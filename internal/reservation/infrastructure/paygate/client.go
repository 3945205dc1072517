package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"rentlane/internal/common/types"
	"rentlane/internal/reservation/domain"
)

const (
	providerName      = "paygate"
	maxErrorBody      = 512
	idempotencyHeader = "Idempotency-Key"
)

// Client implements domain.PaymentProvider against a JSON payment gateway.
// Initiate is keyed by the reservation ID, so a retried call returns the
// gateway's existing session instead of opening a second one.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a gateway client rooted at baseURL.
func NewClient(httpClient *http.Client, baseURL, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type initiateRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	ReferenceID string `json:"reference_id"`
	CallbackURL string `json:"callback_url"`
}

type initiateResponse struct {
	TransactionID string `json:"transaction_id"`
	PaymentURL    string `json:"payment_url"`
}

type refundRequest struct {
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Initiate opens a checkout session for amount.
func (c *Client) Initiate(ctx context.Context, amount types.Money, referenceID, callbackURL string) (domain.PaymentSession, error) {
	var out initiateResponse
	err := c.post(ctx, "/v1/payments", referenceID, initiateRequest{
		Amount:      amount.Fixed(),
		Currency:    amount.Currency,
		ReferenceID: referenceID,
		CallbackURL: callbackURL,
	}, &out)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("initiate payment for %s: %w", referenceID, err)
	}
	if out.TransactionID == "" || out.PaymentURL == "" {
		return domain.PaymentSession{}, fmt.Errorf("initiate payment for %s: incomplete session in response", referenceID)
	}
	return domain.PaymentSession{
		Provider:      providerName,
		TransactionID: out.TransactionID,
		PaymentURL:    out.PaymentURL,
	}, nil
}

// Refund refunds amount, or the full capture when amount is nil.
func (c *Client) Refund(ctx context.Context, transactionID string, amount *types.Money) error {
	req := refundRequest{}
	if amount != nil {
		req.Amount = amount.Fixed()
		req.Currency = amount.Currency
	}
	path := "/v1/payments/" + url.PathEscape(transactionID) + "/refunds"
	if err := c.post(ctx, path, "refund-"+transactionID, req, nil); err != nil {
		return fmt.Errorf("refund %s: %w", transactionID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ domain.PaymentProvider = (*Client)(nil)
