// Package order owns the order lifecycle: creation on the cash and online
// paths, payment reconciliation and the kitchen workflow.
package order

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/pricing"
	"github.com/noah-isme/kopi-pos/internal/voucher"
)

var (
	ErrUnauthenticated   = common.NewAppError("UNAUTHENTICATED", "authentication required", http.StatusUnauthorized, nil)
	ErrNoBranch          = common.NewAppError("NO_BRANCH", "session is not assigned to a branch", http.StatusForbidden, nil)
	ErrForbidden         = common.NewAppError("FORBIDDEN", "order belongs to another branch", http.StatusForbidden, nil)
	ErrOrderNotFound     = common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, nil)
	ErrInvalidTransition = common.NewAppError("INVALID_TRANSITION", "order cannot move to that status", http.StatusConflict, nil)
	ErrAmountMismatch    = common.NewAppError("AMOUNT_MISMATCH", "gross amount does not match order total", http.StatusBadRequest, nil)
	ErrUnknownBranch     = common.NewAppError("INVALID_BRANCH", "branch not found", http.StatusBadRequest, nil)
	ErrGateway           = common.NewAppError("PAYMENT_GATEWAY_ERROR", "payment gateway unavailable", http.StatusInternalServerError, nil)
	ErrVoucherExhausted  = common.NewAppError("VOUCHER_USAGE_LIMIT", "voucher usage limit reached", http.StatusConflict, nil)
)

// ErrNotFound is the storage-level sentinel for a missing order.
var ErrNotFound = errors.New("order not found")

// Order is the persisted purchase record.
type Order struct {
	ID             string              `json:"id"`
	BranchID       string              `json:"branchId"`
	CustomerName   string              `json:"customerName,omitempty"`
	WhatsApp       string              `json:"whatsapp,omitempty"`
	Items          []pricing.LineItem  `json:"items"`
	Subtotal       int64               `json:"subtotal"`
	DiscountAmount int64               `json:"discountAmount"`
	TotalAmount    int64               `json:"totalAmount"`
	VoucherID      *string             `json:"voucherId,omitempty"`
	Status         Status              `json:"status"`
	OrderType      pricing.OrderType   `json:"orderType"`
	OrderSource    pricing.Source      `json:"orderSource"`
	PaymentType    pricing.PaymentType `json:"paymentType"`
	SnapToken      *string             `json:"snapToken,omitempty"`
	CashierID      *string             `json:"cashierId,omitempty"`
	TableNumber    *string             `json:"tableNumber,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Queries is the record-level persistence surface for orders. The same
// interface is used inside and outside transactions.
type Queries interface {
	voucher.Ledger
	InsertOrder(ctx context.Context, o Order) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	// GetOrderForUpdate locks the row until the transaction ends.
	GetOrderForUpdate(ctx context.Context, id string) (Order, error)
	// UpdateOrderStatus sets to only while the row is still in from and
	// reports whether a row changed.
	UpdateOrderStatus(ctx context.Context, id string, from, to Status) (bool, error)
	ListOrdersByStatus(ctx context.Context, branchID string, statuses []Status, limit int) ([]Order, error)
	BranchExists(ctx context.Context, id string) (bool, error)
}

// Store adds the atomic transaction primitive.
type Store interface {
	Queries
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}

// Result describes what a payment notification did to an order.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
	ResultNotFound  Result = "not_found"
	ResultStale     Result = "stale"

	// ResultAmountMismatch marks a paid notification whose gross amount
	// disagrees with the order total. The order is left untouched.
	ResultAmountMismatch Result = "amount_mismatch"
)

// Reconciliation is the outcome of applying one notification.
type Reconciliation struct {
	OrderID string `json:"orderId"`
	From    Status `json:"from,omitempty"`
	To      Status `json:"to,omitempty"`
	Result  Result `json:"result"`
}
