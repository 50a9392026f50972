package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/resilience"
)

// ErrGateway wraps any failure to obtain a payment session from the gateway.
var ErrGateway = errors.New("payment gateway error")

// ItemDetail is one line of the gateway's item_details array. Discounts are
// sent as a negative-priced line so the items sum to the gross amount.
type ItemDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Category string `json:"category,omitempty"`
}

// CustomerDetails identifies the payer to the gateway.
type CustomerDetails struct {
	FirstName string `json:"first_name"`
	Phone     string `json:"phone,omitempty"`
}

// TransactionRequest describes the payment session to open.
type TransactionRequest struct {
	OrderID       string
	GrossAmount   int64
	Items         []ItemDetail
	Customer      CustomerDetails
	ExpiryMinutes int
}

// Transaction is the gateway's answer: a token for the payment UI and a
// hosted-page URL.
type Transaction struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// Snap calls the Midtrans Snap API.
type Snap struct {
	BaseURL   string
	ServerKey string
	HTTP      *resilience.HTTPClient
}

type snapPayload struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	ItemDetails     []ItemDetail    `json:"item_details"`
	CustomerDetails CustomerDetails `json:"customer_details"`
	Expiry          *snapExpiry     `json:"expiry,omitempty"`
}

type snapExpiry struct {
	Unit     string `json:"unit"`
	Duration int    `json:"duration"`
}

type snapError struct {
	ErrorMessages []string `json:"error_messages"`
}

// CreateTransaction opens a payment session for req.
func (s *Snap) CreateTransaction(ctx context.Context, req TransactionRequest) (tx Transaction, err error) {
	if s == nil || s.HTTP == nil || strings.TrimSpace(s.ServerKey) == "" {
		return Transaction{}, fmt.Errorf("%w: snap client not configured", ErrGateway)
	}
	ctx, span := otel.Tracer("payment.Snap").Start(ctx, "Snap.CreateTransaction")
	defer span.End()
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
		}
		span.SetAttributes(
			attribute.String("order.id", req.OrderID),
			attribute.Int64("payment.gross_amount", req.GrossAmount),
			attribute.String("payment.result", result),
		)
		obs.Inc(obs.PaymentGatewayTotal, result)
		obs.Observe(obs.PaymentGatewayLatency, obs.DurationMillis(time.Since(start)))
	}()

	if err := checkItemsSum(req); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	var payload snapPayload
	payload.TransactionDetails.OrderID = req.OrderID
	payload.TransactionDetails.GrossAmount = req.GrossAmount
	payload.ItemDetails = req.Items
	payload.CustomerDetails = req.Customer
	if req.ExpiryMinutes > 0 {
		payload.Expiry = &snapExpiry{Unit: "minutes", Duration: req.ExpiryMinutes}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: encode request: %v", ErrGateway, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(s.ServerKey, "")

	resp, err := s.HTTP.Do(ctx, httpReq)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var apiErr snapError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return Transaction{}, fmt.Errorf("%w: status %d: %s", ErrGateway, resp.StatusCode, strings.Join(apiErr.ErrorMessages, "; "))
	}
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return Transaction{}, fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	if tx.Token == "" {
		return Transaction{}, fmt.Errorf("%w: empty token", ErrGateway)
	}
	return tx, nil
}

func (s *Snap) endpoint() string {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		base = "https://app.sandbox.midtrans.com"
	}
	return base + "/snap/v1/transactions"
}

func checkItemsSum(req TransactionRequest) error {
	if len(req.Items) == 0 {
		return nil
	}
	var sum int64
	for _, it := range req.Items {
		sum += it.Price * int64(it.Quantity)
	}
	if sum != req.GrossAmount {
		return fmt.Errorf("item details sum %d does not match gross amount %d", sum, req.GrossAmount)
	}
	return nil
}
