package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/money"
)

// ErrMalformedNotification is returned when a webhook body cannot be parsed
// into a complete notification.
var ErrMalformedNotification = errors.New("malformed payment notification")

// Notification is the typed form of a gateway payment notification.
type Notification struct {
	OrderID           string `json:"order_id" validate:"required"`
	StatusCode        string `json:"status_code" validate:"required"`
	GrossAmount       string `json:"gross_amount" validate:"required"`
	TransactionStatus string `json:"transaction_status" validate:"required"`
	FraudStatus       string `json:"fraud_status"`
	SignatureKey      string `json:"signature_key" validate:"required"`
	PaymentType       string `json:"payment_type,omitempty"`
	TransactionID     string `json:"transaction_id,omitempty"`
	TransactionTime   string `json:"transaction_time,omitempty"`
}

// ParseNotification decodes and validates a webhook body. Signature checks are
// left to Verifier so callers can reject malformed input first.
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	n.OrderID = strings.TrimSpace(n.OrderID)
	n.StatusCode = strings.TrimSpace(n.StatusCode)
	n.GrossAmount = strings.TrimSpace(n.GrossAmount)
	n.TransactionStatus = strings.ToLower(strings.TrimSpace(n.TransactionStatus))
	n.FraudStatus = strings.ToLower(strings.TrimSpace(n.FraudStatus))
	n.SignatureKey = strings.TrimSpace(n.SignatureKey)
	if err := common.Validator().Struct(n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if _, err := n.Amount(); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return n, nil
}

// Amount returns the gross amount in minor units.
func (n Notification) Amount() (int64, error) {
	return money.ParseAmount(n.GrossAmount)
}
