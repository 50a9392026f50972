package voucher

import (
	"strings"
	"time"
)

// Type enumerates the supported discount mechanics.
type Type string

const (
	TypePercentage  Type = "PERCENTAGE"
	TypeFixedAmount Type = "FIXED_AMOUNT"
	TypeFreeItem    Type = "FREE_ITEM"
	TypeBuyXGetY    Type = "BUY_X_GET_Y"
)

// Valid reports whether t is a known voucher type.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeFreeItem, TypeBuyXGetY:
		return true
	}
	return false
}

// Voucher is a promotional rule as stored by the persistence layer.
type Voucher struct {
	ID                   string    `json:"id"`
	Code                 string    `json:"code"`
	Description          string    `json:"description,omitempty"`
	Type                 Type      `json:"type"`
	Value                int64     `json:"value"`
	MinPurchase          int64     `json:"minPurchase"`
	MaxDiscount          *int64    `json:"maxDiscount,omitempty"`
	UsageLimit           *int      `json:"usageLimit,omitempty"`
	UsageCount           int       `json:"usageCount"`
	PerUserLimit         *int      `json:"perUserLimit,omitempty"`
	ValidFrom            time.Time `json:"validFrom"`
	ValidUntil           time.Time `json:"validUntil"`
	Active               bool      `json:"active"`
	ApplicableItems      []string  `json:"applicableItems,omitempty"`
	ApplicableCategories []string  `json:"applicableCategories,omitempty"`
	ApplicableBranches   []string  `json:"applicableBranches,omitempty"`
	HappyHourStart       string    `json:"happyHourStart,omitempty"`
	HappyHourEnd         string    `json:"happyHourEnd,omitempty"`
	BuyQuantity          int       `json:"buyQuantity,omitempty"`
	GetQuantity          int       `json:"getQuantity,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Item is a cart line as seen by the evaluator.
type Item struct {
	ID       string `json:"id"`
	Category string `json:"category,omitempty"`
	Price    int64  `json:"price" validate:"gte=0,lte=100000000"`
	Qty      int    `json:"qty" validate:"gt=0,lte=999"`
}

// Cart is the evaluation context for a voucher. CustomerUses is only
// meaningful when Customer is set and the caller loaded it from the ledger.
type Cart struct {
	Total        int64
	Items        []Item
	BranchID     string
	Customer     string
	CustomerUses int
}

// Usage is one row of the consumption ledger.
type Usage struct {
	VoucherID string    `json:"voucherId"`
	OrderID   string    `json:"orderId"`
	Customer  string    `json:"customer,omitempty"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeCode canonicalises user input before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
