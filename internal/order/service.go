package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/payment"
	"github.com/noah-isme/kopi-pos/internal/pricing"
	"github.com/noah-isme/kopi-pos/internal/voucher"
)

// Gateway opens payment sessions for online orders.
type Gateway interface {
	CreateTransaction(ctx context.Context, req payment.TransactionRequest) (payment.Transaction, error)
}

// Emitter publishes committed order events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// ExpiryScheduler arranges for Service.Expire to run once the payment window
// of an online order has passed.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, orderID string, after time.Duration) error
}

// VoucherEvaluator re-evaluates the voucher referenced by an order request.
type VoucherEvaluator interface {
	ValidateByID(ctx context.Context, id string, cart voucher.Cart) (voucher.Decision, error)
}

// ConsumePolicy decides when online orders take a voucher slot. Cash orders
// always consume at creation.
type ConsumePolicy string

const (
	ConsumeOnOrder      ConsumePolicy = "order"
	ConsumeOnSettlement ConsumePolicy = "settlement"
)

// ParseConsumePolicy defaults unknown values to ConsumeOnOrder.
func ParseConsumePolicy(raw string) ConsumePolicy {
	if ConsumePolicy(strings.ToLower(strings.TrimSpace(raw))) == ConsumeOnSettlement {
		return ConsumeOnSettlement
	}
	return ConsumeOnOrder
}

// Service implements order creation, payment reconciliation and the kitchen
// workflow on top of a transactional Store.
type Service struct {
	Store      Store
	Vouchers   VoucherEvaluator
	Gateway    Gateway
	Events     Emitter
	Expiry     ExpiryScheduler
	Policy     ConsumePolicy
	PaymentTTL time.Duration
	NewID      func() string
	Now        func() time.Time
	Logger     zerolog.Logger
}

// CashRequest is the cashier counter payload. The branch comes from the
// staff session, never from the body.
type CashRequest struct {
	Items          []pricing.LineItem `json:"items" validate:"required,min=1,max=100,dive"`
	VoucherID      string             `json:"voucherId,omitempty"`
	Subtotal       *int64             `json:"subtotal,omitempty"`
	DiscountAmount *int64             `json:"discountAmount,omitempty"`
	OrderType      string             `json:"orderType,omitempty"`
	CustomerName   string             `json:"customerName,omitempty"`
	WhatsApp       string             `json:"whatsapp,omitempty"`
	TableNumber    string             `json:"tableNumber,omitempty"`
	Notes          string             `json:"notes,omitempty"`
}

// OnlineRequest is the customer web payload.
type OnlineRequest struct {
	BranchID       string             `json:"branchId" validate:"required"`
	Items          []pricing.LineItem `json:"items" validate:"required,min=1,max=100,dive"`
	VoucherID      string             `json:"voucherId,omitempty"`
	Subtotal       *int64             `json:"subtotal,omitempty"`
	DiscountAmount *int64             `json:"discountAmount,omitempty"`
	OrderType      string             `json:"orderType,omitempty"`
	CustomerName   string             `json:"customerName" validate:"required"`
	WhatsApp       string             `json:"whatsapp" validate:"required"`
	TableNumber    string             `json:"tableNumber,omitempty"`
	Notes          string             `json:"notes,omitempty"`
}

// Checkout is returned by CreateOnline.
type Checkout struct {
	OrderID     string `json:"orderId"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	TotalAmount int64  `json:"totalAmount"`
}

// CreateCash records a paid order taken at the counter.
func (s *Service) CreateCash(ctx context.Context, p *common.Principal, req CashRequest) (Order, error) {
	if p == nil {
		return Order{}, ErrUnauthenticated
	}
	if strings.TrimSpace(p.BranchID) == "" {
		return Order{}, ErrNoBranch
	}
	disc, err := s.resolveDiscount(ctx, req.VoucherID, req.Items, p.BranchID, req.WhatsApp)
	if err != nil {
		return Order{}, err
	}
	draft, err := pricing.Build(req.Items, disc, pricing.Context{
		Channel:        pricing.ChannelCash,
		BranchID:       p.BranchID,
		OrderType:      req.OrderType,
		CustomerName:   req.CustomerName,
		WhatsApp:       req.WhatsApp,
		Subtotal:       req.Subtotal,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		return Order{}, common.Validation(err.Error(), err)
	}

	o := s.newOrder(draft, StatusPaid, req.TableNumber, req.Notes)
	cashier := p.UserID
	o.CashierID = &cashier

	var saved Order
	err = s.Store.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		var err error
		saved, err = q.InsertOrder(ctx, o)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return s.consumeAtCreation(ctx, q, saved)
	})
	if err != nil {
		return Order{}, err
	}
	obs.Inc(obs.OrdersCreatedTotal, pricing.ChannelCash.String())
	s.emit(ctx, events.TopicOrderCreated, saved, "")
	return saved, nil
}

// CreateOnline prices a customer order, opens a gateway session and persists
// the order as PENDING. The gateway is called before anything is written so a
// gateway failure leaves no order behind.
func (s *Service) CreateOnline(ctx context.Context, req OnlineRequest) (Checkout, error) {
	branch := strings.TrimSpace(req.BranchID)
	if branch == "" {
		return Checkout{}, common.Validation(pricing.ErrMissingBranch.Error(), pricing.ErrMissingBranch)
	}
	ok, err := s.Store.BranchExists(ctx, branch)
	if err != nil {
		return Checkout{}, fmt.Errorf("check branch: %w", err)
	}
	if !ok {
		return Checkout{}, ErrUnknownBranch
	}
	disc, err := s.resolveDiscount(ctx, req.VoucherID, req.Items, branch, req.WhatsApp)
	if err != nil {
		return Checkout{}, err
	}
	draft, err := pricing.Build(req.Items, disc, pricing.Context{
		Channel:        pricing.ChannelOnline,
		BranchID:       branch,
		OrderType:      req.OrderType,
		CustomerName:   req.CustomerName,
		WhatsApp:       req.WhatsApp,
		Subtotal:       req.Subtotal,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		return Checkout{}, common.Validation(err.Error(), err)
	}

	o := s.newOrder(draft, StatusPending, req.TableNumber, req.Notes)
	if s.Gateway == nil {
		return Checkout{}, ErrGateway
	}
	tx, err := s.Gateway.CreateTransaction(ctx, payment.TransactionRequest{
		OrderID:       o.ID,
		GrossAmount:   draft.TotalAmount,
		Items:         draft.GatewayItems(),
		Customer:      payment.CustomerDetails{FirstName: draft.CustomerName, Phone: draft.WhatsApp},
		ExpiryMinutes: int(s.PaymentTTL / time.Minute),
	})
	if err != nil {
		s.Logger.Error().Err(err).Str("order_id", o.ID).Msg("create payment session failed")
		return Checkout{}, ErrGateway.WithErr(err)
	}
	token := tx.Token
	o.SnapToken = &token

	var saved Order
	err = s.Store.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		var err error
		saved, err = q.InsertOrder(ctx, o)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if s.Policy == ConsumeOnSettlement {
			return nil
		}
		return s.consumeAtCreation(ctx, q, saved)
	})
	if err != nil {
		return Checkout{}, err
	}
	obs.Inc(obs.OrdersCreatedTotal, pricing.ChannelOnline.String())
	s.emit(ctx, events.TopicOrderCreated, saved, "")
	if s.Expiry != nil && s.PaymentTTL > 0 {
		if err := s.Expiry.ScheduleExpiry(ctx, saved.ID, s.PaymentTTL); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", saved.ID).Msg("schedule order expiry failed")
		}
	}
	return Checkout{OrderID: saved.ID, Token: tx.Token, RedirectURL: tx.RedirectURL, TotalAmount: saved.TotalAmount}, nil
}

// ApplyNotification reconciles a verified gateway notification with the
// stored order. The status compare runs under a row lock, so concurrent
// deliveries of the same notification apply at most once.
func (s *Service) ApplyNotification(ctx context.Context, n payment.Notification) (Reconciliation, error) {
	rec := Reconciliation{OrderID: n.OrderID}
	target := TargetFor(payment.Resolve(n.TransactionStatus, n.FraudStatus))
	amount, err := n.Amount()
	if err != nil {
		return rec, common.Validation("invalid gross_amount", err)
	}

	var applied Order
	err = s.Store.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		o, err := q.GetOrderForUpdate(ctx, n.OrderID)
		if errors.Is(err, ErrNotFound) {
			rec.Result = ResultNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		rec.From, rec.To = o.Status, target
		switch {
		case target == "":
			rec.Result = ResultIgnored
			return nil
		case o.Status == target:
			rec.Result = ResultDuplicate
			return nil
		case !CanTransition(o.Status, target):
			rec.Result = ResultStale
			return nil
		}
		if target == StatusPaid && amount != o.TotalAmount {
			return ErrAmountMismatch.WithErr(fmt.Errorf("notified %d, order total %d", amount, o.TotalAmount))
		}
		changed, err := q.UpdateOrderStatus(ctx, o.ID, o.Status, target)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if !changed {
			rec.Result = ResultDuplicate
			return nil
		}
		if target == StatusPaid {
			if err := s.consumeAtSettlement(ctx, q, o); err != nil {
				return err
			}
		}
		o.Status = target
		applied = o
		rec.Result = ResultApplied
		return nil
	})
	if err != nil {
		return rec, err
	}
	if rec.Result == ResultStale {
		s.Logger.Warn().Str("order_id", n.OrderID).Str("from", string(rec.From)).Str("to", string(rec.To)).Msg("stale payment notification ignored")
	}
	if rec.Result == ResultApplied {
		obs.Inc(obs.OrderTransitionsTotal, string(rec.From), string(rec.To))
		s.emit(ctx, events.TopicForStatus(string(applied.Status)), applied, rec.From)
	}
	return rec, nil
}

// Advance moves an order one step along the kitchen workflow. An empty
// target means the next step; any other target must equal it.
func (s *Service) Advance(ctx context.Context, p *common.Principal, orderID string, target Status) (Order, error) {
	if p == nil {
		return Order{}, ErrUnauthenticated
	}
	if !p.IsAdmin() && strings.TrimSpace(p.BranchID) == "" {
		return Order{}, ErrNoBranch
	}
	var (
		updated Order
		from    Status
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		o, err := q.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if !p.CanAccessBranch(o.BranchID) {
			return ErrForbidden
		}
		next, ok := Next(o.Status)
		if !ok || (target != "" && target != next) {
			return ErrInvalidTransition.WithErr(fmt.Errorf("%s -> %s", o.Status, target))
		}
		changed, err := q.UpdateOrderStatus(ctx, o.ID, o.Status, next)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if !changed {
			return ErrInvalidTransition
		}
		from = o.Status
		o.Status = next
		o.UpdatedAt = s.now()
		updated = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	obs.Inc(obs.OrderTransitionsTotal, string(from), string(updated.Status))
	s.emit(ctx, events.TopicForStatus(string(updated.Status)), updated, from)
	return updated, nil
}

// Expire closes an online order whose payment window passed. Orders that
// already left PENDING are untouched; the return value reports whether the
// order expired.
func (s *Service) Expire(ctx context.Context, orderID string) (bool, error) {
	var expired Order
	err := s.Store.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		o, err := q.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if o.Status != StatusPending {
			return nil
		}
		changed, err := q.UpdateOrderStatus(ctx, o.ID, StatusPending, StatusExpired)
		if err != nil || !changed {
			return err
		}
		o.Status = StatusExpired
		expired = o
		return nil
	})
	if err != nil || expired.ID == "" {
		return false, err
	}
	obs.Inc(obs.OrderTransitionsTotal, string(StatusPending), string(StatusExpired))
	s.emit(ctx, events.TopicOrderExpired, expired, StatusPending)
	return true, nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

// kitchenStatuses are the orders shown on the kitchen display.
var kitchenStatuses = []Status{StatusPaid, StatusPreparing, StatusReady}

// Kitchen lists active orders for the principal's branch. Admins may pick
// any branch.
func (s *Service) Kitchen(ctx context.Context, p *common.Principal, branchID string, limit int) ([]Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	branch := strings.TrimSpace(branchID)
	if branch == "" {
		branch = p.BranchID
	}
	if branch == "" {
		return nil, ErrNoBranch
	}
	if !p.CanAccessBranch(branch) {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = 100
	}
	return s.Store.ListOrdersByStatus(ctx, branch, kitchenStatuses, limit)
}

func (s *Service) resolveDiscount(ctx context.Context, voucherID string, items []pricing.LineItem, branchID, customer string) (pricing.Discount, error) {
	voucherID = strings.TrimSpace(voucherID)
	if voucherID == "" {
		return pricing.Discount{}, nil
	}
	if s.Vouchers == nil {
		return pricing.Discount{}, errors.New("voucher evaluator not configured")
	}
	subtotal, err := pricing.Subtotal(items)
	if err != nil {
		return pricing.Discount{}, common.Validation(err.Error(), err)
	}
	d, err := s.Vouchers.ValidateByID(ctx, voucherID, voucher.Cart{
		Total:    subtotal,
		Items:    pricing.VoucherItems(items),
		BranchID: branchID,
		Customer: strings.TrimSpace(customer),
	})
	if err != nil {
		return pricing.Discount{}, fmt.Errorf("evaluate voucher: %w", err)
	}
	if !d.Valid {
		return pricing.Discount{}, common.NewAppError(voucher.ReasonCode(d.Err), d.Reason(), http.StatusBadRequest, d.Err)
	}
	return pricing.Discount{VoucherID: d.Voucher.ID, Code: d.Voucher.Code, Amount: d.Discount}, nil
}

func (s *Service) newOrder(d pricing.Draft, status Status, table, notes string) Order {
	now := s.now()
	o := Order{
		ID:             s.newID(),
		BranchID:       d.BranchID,
		CustomerName:   d.CustomerName,
		WhatsApp:       d.WhatsApp,
		Items:          d.Items,
		Subtotal:       d.Subtotal,
		DiscountAmount: d.DiscountAmount,
		TotalAmount:    d.TotalAmount,
		Status:         status,
		OrderType:      d.OrderType,
		OrderSource:    d.OrderSource,
		PaymentType:    d.PaymentType,
		Notes:          strings.TrimSpace(notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if d.VoucherID != "" {
		id := d.VoucherID
		o.VoucherID = &id
	}
	if t := strings.TrimSpace(table); t != "" {
		o.TableNumber = &t
	}
	return o
}

func (s *Service) consumeAtCreation(ctx context.Context, q Queries, o Order) error {
	if o.VoucherID == nil {
		return nil
	}
	_, err := voucher.Consume(ctx, q, usageFor(o))
	if errors.Is(err, voucher.ErrUsageLimitReached) {
		return ErrVoucherExhausted
	}
	if err != nil {
		return fmt.Errorf("consume voucher: %w", err)
	}
	return nil
}

// consumeAtSettlement is a no-op when the order already took its slot at
// creation. Running out of slots here cannot undo a captured payment, so it
// is logged and the order still settles.
func (s *Service) consumeAtSettlement(ctx context.Context, q Queries, o Order) error {
	if o.VoucherID == nil {
		return nil
	}
	_, err := voucher.Consume(ctx, q, usageFor(o))
	if errors.Is(err, voucher.ErrUsageLimitReached) {
		s.Logger.Warn().Str("order_id", o.ID).Str("voucher_id", *o.VoucherID).Msg("voucher exhausted at settlement")
		return nil
	}
	if err != nil {
		return fmt.Errorf("consume voucher: %w", err)
	}
	return nil
}

func usageFor(o Order) voucher.Usage {
	return voucher.Usage{
		VoucherID: *o.VoucherID,
		OrderID:   o.ID,
		Customer:  o.WhatsApp,
		Amount:    o.DiscountAmount,
	}
}

// emitTimeout bounds event persistence and fan-out once a transition has
// committed.
const emitTimeout = 10 * time.Second

// emit runs after commit on a context detached from the request, so a client
// or gateway disconnect cannot drop the event.
func (s *Service) emit(ctx context.Context, topic string, o Order, from Status) {
	if s.Events == nil || topic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	payload := events.OrderPayload{
		OrderID:      o.ID,
		BranchID:     o.BranchID,
		Status:       string(o.Status),
		PrevStatus:   string(from),
		CustomerName: o.CustomerName,
		WhatsApp:     o.WhatsApp,
		TotalAmount:  o.TotalAmount,
		OrderSource:  string(o.OrderSource),

		NotifyCustomer: Notifies(from, o.Status),
	}
	if _, err := s.Events.Emit(ctx, topic, o.ID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("order_id", o.ID).Str("topic", topic).Msg("emit order event failed")
	}
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
