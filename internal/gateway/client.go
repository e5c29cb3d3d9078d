// Package gateway is a thin typed client for the card-payment gateway's
// HTTPS API: form-encoded POSTs, bearer auth, JSON responses. Everything is
// USD and integer cents on this side of the boundary; conversion to
// on-chain micro-units happens in the payment provider.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Error kinds mirroring the ledger client: 5xx and transport failures are
// retryable, 4xx are not.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway: status %d code=%s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the error is a transient gateway failure.
func Retryable(err error) bool {
	if ae, ok := err.(*apiError); ok {
		return ae.Status >= 500
	}
	return err != nil // transport errors
}

// IsAlreadyCanceled reports whether an error is the gateway telling us the
// intent was canceled before. Cancel must be idempotent for the refund
// path.
func IsAlreadyCanceled(err error) bool {
	ae, ok := err.(*apiError)
	return ok && strings.Contains(ae.Message, "already been canceled")
}

// Client calls the gateway. The zero value is not usable; use New.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	log       zerolog.Logger
}

// New returns a gateway client with a bounded request timeout.
func New(baseURL, secretKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: 20 * time.Second},
		log:       log.With().Str("component", "gateway").Logger(),
	}
}

// --- payment intents --------------------------------------------------------

// PaymentIntent mirrors the gateway's intent object, reduced to the fields
// the orchestrator reads.
type PaymentIntent struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// CreateManualCaptureIntent creates and confirms a manual-capture payment
// intent so funds are held but not yet captured. metadata is echoed back by
// the gateway on every later read of the intent.
func (c *Client) CreateManualCaptureIntent(ctx context.Context, amountCents int64, customerID, paymentMethodID string, metadata map[string]string) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "usd")
	form.Set("capture_method", "manual")
	form.Set("confirm", "true")
	form.Set("customer", customerID)
	form.Set("payment_method", paymentMethodID)
	form.Set("off_session", "true")
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}
	var out PaymentIntent
	if err := c.post(ctx, "/payment_intents", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CapturePaymentIntent captures a previously held intent.
func (c *Client) CapturePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var out PaymentIntent
	if err := c.post(ctx, "/payment_intents/"+id+"/capture", url.Values{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelPaymentIntent releases a hold. Canceling an already-canceled intent
// is not an error.
func (c *Client) CancelPaymentIntent(ctx context.Context, id string) error {
	var out PaymentIntent
	err := c.post(ctx, "/payment_intents/"+id+"/cancel", url.Values{}, &out)
	if err != nil && IsAlreadyCanceled(err) {
		return nil
	}
	return err
}

// GetPaymentIntent reads an intent back, metadata included.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var out PaymentIntent
	if err := c.get(ctx, "/payment_intents/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- customers --------------------------------------------------------------

// Customer is the gateway's customer object.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type customerList struct {
	Data    []Customer `json:"data"`
	HasMore bool       `json:"has_more"`
}

// CustomerPage is one page of customers with the raw pagination cursor.
type CustomerPage struct {
	Customers []Customer
	HasMore   bool
	LastID    string
}

// FindCustomerByEmail returns the first customer with the given email, or
// nil when none exists.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var out customerList
	q := url.Values{"email": {email}, "limit": {"1"}}
	if err := c.get(ctx, "/customers", q, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, nil
	}
	return &out.Data[0], nil
}

// CreateCustomer registers a new customer keyed by email.
func (c *Client) CreateCustomer(ctx context.Context, email string) (*Customer, error) {
	form := url.Values{"email": {email}}
	var out Customer
	if err := c.post(ctx, "/customers", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCustomers walks the customer collection one page at a time.
func (c *Client) ListCustomers(ctx context.Context, cursor string, limit int) (*CustomerPage, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	var out customerList
	if err := c.get(ctx, "/customers", q, &out); err != nil {
		return nil, err
	}
	page := &CustomerPage{Customers: out.Data, HasMore: out.HasMore}
	if len(out.Data) > 0 {
		page.LastID = out.Data[len(out.Data)-1].ID
	}
	return page, nil
}

// --- subscriptions ----------------------------------------------------------

// Subscription is the gateway's subscription object, reduced.
type Subscription struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer"`
	Status     string `json:"status"`
}

// CreateSubscription subscribes a customer to a price.
func (c *Client) CreateSubscription(ctx context.Context, customerID, priceID string) (*Subscription, error) {
	form := url.Values{
		"customer":        {customerID},
		"items[0][price]": {priceID},
	}
	var out Subscription
	if err := c.post(ctx, "/subscriptions", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSubscriptions returns a customer's subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	var out struct {
		Data []Subscription `json:"data"`
	}
	q := url.Values{"customer": {customerID}, "limit": {"100"}}
	if err := c.get(ctx, "/subscriptions", q, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// --- invoices ---------------------------------------------------------------

type rawInvoice struct {
	ID         string `json:"id"`
	Customer   string `json:"customer"`
	Status     string `json:"status"`
	Currency   string `json:"currency"`
	AmountPaid int64  `json:"amount_paid"`
	Created    int64  `json:"created"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

type invoiceList struct {
	Data    []rawInvoice `json:"data"`
	HasMore bool         `json:"has_more"`
}

// Invoice is a paid USD invoice normalized for pool accounting. PaidAt is
// RFC 3339 UTC.
type Invoice struct {
	ID              string
	CustomerID      string
	AmountPaidCents int64
	PaidAt          string
	PriceID         string
}

// InvoicePage is one page of invoices. Invoices carries only paid USD
// entries; HasMore and LastID reflect the raw page so pagination still
// walks everything.
type InvoicePage struct {
	Invoices []Invoice
	HasMore  bool
	LastID   string
}

// ListPaidInvoices fetches one page of a customer's invoices (or all
// customers when customerID is empty) and keeps only paid USD entries.
func (c *Client) ListPaidInvoices(ctx context.Context, customerID, cursor string, limit int) (*InvoicePage, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}, "status": {"paid"}}
	if customerID != "" {
		q.Set("customer", customerID)
	}
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	var out invoiceList
	if err := c.get(ctx, "/invoices", q, &out); err != nil {
		return nil, err
	}
	page := &InvoicePage{HasMore: out.HasMore}
	if len(out.Data) > 0 {
		page.LastID = out.Data[len(out.Data)-1].ID
	}
	for _, inv := range out.Data {
		if inv.Status != "paid" || !strings.EqualFold(inv.Currency, "usd") || inv.AmountPaid <= 0 {
			continue
		}
		paidAt := inv.StatusTransitions.PaidAt
		if paidAt == 0 {
			paidAt = inv.Created
		}
		priceID := ""
		if len(inv.Lines.Data) > 0 {
			priceID = inv.Lines.Data[0].Price.ID
		}
		page.Invoices = append(page.Invoices, Invoice{
			ID:              inv.ID,
			CustomerID:      inv.Customer,
			AmountPaidCents: inv.AmountPaid,
			PaidAt:          time.Unix(paidAt, 0).UTC().Format(time.RFC3339),
			PriceID:         priceID,
		})
	}
	return page, nil
}

// --- HTTP plumbing ----------------------------------------------------------

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &envelope)
		return &apiError{Status: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
