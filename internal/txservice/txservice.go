// Package txservice is the HTTP client for the external transaction
// service: checkout submission, past-transaction lookup, and refund
// submission. It separates rejections (4xx, fatal, never queued) from
// transport and backend failures (retryable, queueable).
package txservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"altarath/pos/internal/domain"
)

// RejectedError means the backend understood the request and refused it:
// malformed payload or a business-rule violation. It must be surfaced to
// the operator verbatim and never retried silently.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction service rejected request (%d): %s", e.StatusCode, e.Message)
}

// IsRejected reports whether err is a backend rejection as opposed to a
// transport or availability failure.
func IsRejected(err error) bool {
	var rerr *RejectedError
	return errors.As(err, &rerr)
}

// SoldItem is one line of a past transaction as the service stores it.
// Older records carry only a product ID; the name is resolved against the
// catalog in that case.
type SoldItem struct {
	ID           string           `json:"id,omitempty"`
	ProductID    string           `json:"product_id,omitempty"`
	Name         string           `json:"name,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
	Quantity     int              `json:"quantity"`
	Details      string           `json:"details,omitempty"`
}

// TransactionRecord is one lookup result.
type TransactionRecord struct {
	ReferenceNumber string          `json:"reference_number"`
	Date            string          `json:"date"`
	Time            string          `json:"time"`
	PaymentMethod   string          `json:"payment_method"`
	Total           decimal.Decimal `json:"total"`
	ItemsSold       []SoldItem      `json:"items_sold"`
}

type Client interface {
	SubmitCheckout(ctx context.Context, tx domain.Transaction) (*domain.CheckoutConfirmation, error)
	FindTransactions(ctx context.Context, referenceNumber string) ([]TransactionRecord, error)
	SubmitRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundConfirmation, error)
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) SubmitCheckout(ctx context.Context, tx domain.Transaction) (*domain.CheckoutConfirmation, error) {
	var confirmation domain.CheckoutConfirmation
	if err := c.post(ctx, "/api/checkout", tx, &confirmation); err != nil {
		return nil, err
	}
	return &confirmation, nil
}

func (c *HTTPClient) FindTransactions(ctx context.Context, referenceNumber string) ([]TransactionRecord, error) {
	endpoint := fmt.Sprintf("%s/api/transactions?reference=%s", c.baseURL, url.QueryEscape(referenceNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build lookup request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "lookup transactions")
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Transactions []TransactionRecord `json:"transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode lookup response")
	}
	return payload.Transactions, nil
}

func (c *HTTPClient) SubmitRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundConfirmation, error) {
	var payload struct {
		Refund domain.RefundConfirmation `json:"refund"`
	}
	if err := c.post(ctx, "/api/transactions/refund", req, &payload); err != nil {
		return nil, err
	}
	return &payload.Refund, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "marshal %s request", path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return errors.Wrapf(err, "build %s request", path)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &RejectedError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	default:
		return errors.Errorf("transaction service unavailable: status %d", resp.StatusCode)
	}
}

func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(bytes.TrimSpace(raw))
}
