package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrDuplicateCode is returned by stores when a voucher code already exists.
var ErrDuplicateCode = errors.New("voucher code already exists")

// Store captures the read and admin operations the voucher service needs.
// Lookups report ErrNotFound for unknown vouchers.
type Store interface {
	GetVoucherByCode(ctx context.Context, code string) (Voucher, error)
	GetVoucherByID(ctx context.Context, id string) (Voucher, error)
	CountVoucherUsageByCustomer(ctx context.Context, voucherID, customer string) (int, error)
	CreateVoucher(ctx context.Context, v Voucher) (Voucher, error)
	UpdateVoucher(ctx context.Context, v Voucher) (Voucher, error)
	ListVouchers(ctx context.Context, limit, offset int) ([]Voucher, int, error)
}

// Ledger is the transaction-scoped view used to consume a voucher slot.
// LockVoucher must hold a row lock until the surrounding transaction ends.
type Ledger interface {
	LockVoucher(ctx context.Context, id string) (Voucher, error)
	HasVoucherUsage(ctx context.Context, voucherID, orderID string) (bool, error)
	InsertVoucherUsage(ctx context.Context, u Usage) error
	IncrementVoucherUsage(ctx context.Context, voucherID string) error
}

// Service evaluates vouchers against carts using persisted state.
type Service struct {
	Store    Store
	Now      func() time.Time
	Location *time.Location
	Logger   zerolog.Logger
}

// Validate looks a voucher up by its user-supplied code and evaluates it.
// A missing voucher is a rejected Decision, not an error.
func (s *Service) Validate(ctx context.Context, code string, cart Cart) (Decision, error) {
	if s == nil || s.Store == nil {
		return Decision{}, errors.New("voucher service not configured")
	}
	v, err := s.Store.GetVoucherByCode(ctx, NormalizeCode(code))
	return s.evaluate(ctx, v, err, cart)
}

// ValidateByID evaluates the voucher referenced by an order request.
func (s *Service) ValidateByID(ctx context.Context, id string, cart Cart) (Decision, error) {
	if s == nil || s.Store == nil {
		return Decision{}, errors.New("voucher service not configured")
	}
	v, err := s.Store.GetVoucherByID(ctx, id)
	return s.evaluate(ctx, v, err, cart)
}

func (s *Service) evaluate(ctx context.Context, v Voucher, lookupErr error, cart Cart) (Decision, error) {
	if errors.Is(lookupErr, ErrNotFound) {
		return Evaluate(nil, cart, s.now()), nil
	}
	if lookupErr != nil {
		return Decision{}, fmt.Errorf("load voucher: %w", lookupErr)
	}
	if v.PerUserLimit != nil && *v.PerUserLimit > 0 && cart.Customer != "" {
		used, err := s.Store.CountVoucherUsageByCustomer(ctx, v.ID, cart.Customer)
		if err != nil {
			return Decision{}, fmt.Errorf("count voucher usage: %w", err)
		}
		cart.CustomerUses = used
	}
	decision := Evaluate(&v, cart, s.now())
	if !decision.Valid {
		s.Logger.Debug().Str("code", v.Code).Str("reason", ReasonCode(decision.Err)).Msg("voucher rejected")
	}
	return decision, nil
}

func (s *Service) now() time.Time {
	now := time.Now()
	if s != nil && s.Now != nil {
		now = s.Now()
	}
	if s != nil && s.Location != nil {
		now = now.In(s.Location)
	}
	return now
}

// Consume records that orderID used the voucher and bumps its usage count.
// It returns false without touching the counter when the order already
// consumed this voucher. The call must run inside the caller's transaction.
func Consume(ctx context.Context, l Ledger, u Usage) (bool, error) {
	v, err := l.LockVoucher(ctx, u.VoucherID)
	if err != nil {
		return false, err
	}
	seen, err := l.HasVoucherUsage(ctx, u.VoucherID, u.OrderID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if v.UsageLimit != nil && v.UsageCount >= *v.UsageLimit {
		return false, ErrUsageLimitReached
	}
	if u.Amount < 0 {
		u.Amount = 0
	}
	if err := l.InsertVoucherUsage(ctx, u); err != nil {
		return false, err
	}
	if err := l.IncrementVoucherUsage(ctx, u.VoucherID); err != nil {
		return false, err
	}
	return true, nil
}
