// Package pricing assembles order drafts from cart lines and a voucher
// decision. It performs no I/O; the order service persists what it returns.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/kopi-pos/internal/money"
	"github.com/noah-isme/kopi-pos/internal/payment"
	"github.com/noah-isme/kopi-pos/internal/voucher"
)

var (
	ErrNoItems          = errors.New("order must contain at least one item")
	ErrTooManyItems     = errors.New("order has too many lines")
	ErrInvalidItem      = errors.New("invalid order item")
	ErrMissingBranch    = errors.New("branchId is required")
	ErrMissingCustomer  = errors.New("customerName and whatsapp are required")
	ErrInvalidOrderType = errors.New("orderType must be DINE_IN or TAKE_AWAY")
	ErrSubtotalMismatch = errors.New("subtotal does not match items")
	ErrDiscountMismatch = errors.New("discountAmount does not match voucher")
	ErrZeroTotal        = errors.New("online orders must have a positive total")
)

// Channel selects the payment flow an order goes through.
type Channel int

const (
	// ChannelCash is the cashier counter: paid on the spot.
	ChannelCash Channel = iota
	// ChannelOnline is the customer web flow: paid through the gateway.
	ChannelOnline
)

func (c Channel) String() string {
	if c == ChannelOnline {
		return "online"
	}
	return "cash"
}

type OrderType string

const (
	OrderTypeDineIn   OrderType = "DINE_IN"
	OrderTypeTakeAway OrderType = "TAKE_AWAY"
)

type Source string

const (
	SourceCashierPOS  Source = "CASHIER_POS"
	SourceWebCustomer Source = "WEB_CUSTOMER"
)

type PaymentType string

const (
	PaymentCash PaymentType = "CASH"
	PaymentQRIS PaymentType = "QRIS"
)

// Per-order bounds. Request payloads carry the same limits as validate tags.
const (
	MaxLines     = 100
	MaxQty       = 999
	MaxUnitPrice = 100_000_000
)

// LineItem is one product line of an order.
type LineItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price" validate:"gte=0,lte=100000000"`
	Qty      int    `json:"qty" validate:"gt=0,lte=999"`
	Category string `json:"category,omitempty"`
}

// Discount is the voucher outcome applied to a draft. The zero value means
// no voucher.
type Discount struct {
	VoucherID string
	Code      string
	Amount    int64
}

// Context carries request-level inputs. Subtotal and DiscountAmount are the
// client's own figures; when present they must agree with the recomputation.
type Context struct {
	Channel        Channel
	BranchID       string
	OrderType      string
	CustomerName   string
	WhatsApp       string
	Subtotal       *int64
	DiscountAmount *int64
}

// Draft is a priced order ready to persist.
type Draft struct {
	Items          []LineItem
	BranchID       string
	CustomerName   string
	WhatsApp       string
	Subtotal       int64
	DiscountAmount int64
	TotalAmount    int64
	VoucherID      string
	VoucherCode    string
	OrderType      OrderType
	OrderSource    Source
	PaymentType    PaymentType
	// Settled is true when the order is paid at creation.
	Settled bool
}

// Build validates the cart and prices it.
func Build(items []LineItem, d Discount, in Context) (Draft, error) {
	branch := strings.TrimSpace(in.BranchID)
	if branch == "" {
		return Draft{}, ErrMissingBranch
	}
	if len(items) == 0 {
		return Draft{}, ErrNoItems
	}
	subtotal, err := Subtotal(items)
	if err != nil {
		return Draft{}, err
	}
	lines := make([]LineItem, 0, len(items))
	for i, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		it.Name = strings.TrimSpace(it.Name)
		if it.ID == "" || it.Name == "" {
			return Draft{}, fmt.Errorf("%w: line %d", ErrInvalidItem, i+1)
		}
		lines = append(lines, it)
	}
	if in.Subtotal != nil && *in.Subtotal != subtotal {
		return Draft{}, fmt.Errorf("%w: got %d, computed %d", ErrSubtotalMismatch, *in.Subtotal, subtotal)
	}

	discount := money.Clamp(d.Amount, 0, subtotal)
	if in.DiscountAmount != nil && *in.DiscountAmount != discount {
		return Draft{}, fmt.Errorf("%w: got %d, computed %d", ErrDiscountMismatch, *in.DiscountAmount, discount)
	}

	orderType, err := parseOrderType(in.OrderType)
	if err != nil {
		return Draft{}, err
	}

	draft := Draft{
		Items:          lines,
		BranchID:       branch,
		CustomerName:   strings.TrimSpace(in.CustomerName),
		WhatsApp:       strings.TrimSpace(in.WhatsApp),
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TotalAmount:    money.SubFloor(subtotal, discount),
		OrderType:      orderType,
	}
	if discount > 0 || d.VoucherID != "" {
		draft.VoucherID = d.VoucherID
		draft.VoucherCode = d.Code
	}

	switch in.Channel {
	case ChannelOnline:
		if draft.CustomerName == "" || draft.WhatsApp == "" {
			return Draft{}, ErrMissingCustomer
		}
		if draft.TotalAmount == 0 {
			return Draft{}, ErrZeroTotal
		}
		draft.OrderSource = SourceWebCustomer
		draft.PaymentType = PaymentQRIS
	default:
		draft.OrderSource = SourceCashierPOS
		draft.PaymentType = PaymentCash
		draft.Settled = true
	}
	return draft, nil
}

func parseOrderType(raw string) (OrderType, error) {
	switch OrderType(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", OrderTypeDineIn:
		return OrderTypeDineIn, nil
	case OrderTypeTakeAway:
		return OrderTypeTakeAway, nil
	}
	return "", ErrInvalidOrderType
}

// gateway item names are capped at 50 characters.
const maxItemName = 50

// GatewayItems returns the gateway item details for the draft. A discount is
// sent as a negative line so the details always sum to TotalAmount.
func (d Draft) GatewayItems() []payment.ItemDetail {
	out := make([]payment.ItemDetail, 0, len(d.Items)+1)
	for _, it := range d.Items {
		out = append(out, payment.ItemDetail{
			ID:       it.ID,
			Name:     truncate(it.Name, maxItemName),
			Price:    it.Price,
			Quantity: it.Qty,
			Category: it.Category,
		})
	}
	if d.DiscountAmount > 0 {
		name := "Discount"
		if d.VoucherCode != "" {
			name += " " + d.VoucherCode
		}
		out = append(out, payment.ItemDetail{
			ID:       "DISCOUNT",
			Name:     truncate(name, maxItemName),
			Price:    -d.DiscountAmount,
			Quantity: 1,
		})
	}
	return out
}

// VoucherItems projects lines into the shape the voucher evaluator scores.
func VoucherItems(items []LineItem) []voucher.Item {
	out := make([]voucher.Item, 0, len(items))
	for _, it := range items {
		out = append(out, voucher.Item{ID: it.ID, Category: it.Category, Price: it.Price, Qty: it.Qty})
	}
	return out
}

// Subtotal checks every line against the per-order bounds and sums price
// times quantity.
func Subtotal(items []LineItem) (int64, error) {
	if len(items) > MaxLines {
		return 0, fmt.Errorf("%w: at most %d", ErrTooManyItems, MaxLines)
	}
	var sum int64
	for i, it := range items {
		if it.Qty <= 0 || it.Qty > MaxQty || it.Price < 0 || it.Price > MaxUnitPrice {
			return 0, fmt.Errorf("%w: line %d", ErrInvalidItem, i+1)
		}
		line, err := money.LineTotal(it.Price, it.Qty)
		if err == nil {
			sum, err = money.Add(sum, line)
		}
		if err != nil {
			return 0, fmt.Errorf("%w: line %d: %v", ErrInvalidItem, i+1, err)
		}
	}
	return sum, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
