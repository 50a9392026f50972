package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/money"
	"github.com/noah-isme/kopi-pos/internal/payment"
	"github.com/noah-isme/kopi-pos/internal/pricing"
	"github.com/noah-isme/kopi-pos/internal/voucher"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memStore
	svc     *Service
	emitter *captureEmitter
	gateway *fakeGateway
	expiry  *fakeExpiry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	limit := 100
	store.vouchers["vcr-001"] = voucher.Voucher{
		ID:         "vcr-001",
		Code:       "HEMAT10",
		Type:       voucher.TypeFixedAmount,
		Value:      10000,
		UsageLimit: &limit,
		ValidFrom:  fixedNow.Add(-24 * time.Hour),
		ValidUntil: fixedNow.Add(24 * time.Hour),
		Active:     true,
	}
	f := &fixture{store: store, emitter: &captureEmitter{}, gateway: &fakeGateway{}, expiry: &fakeExpiry{}}
	var (
		mu  sync.Mutex
		seq int
	)
	f.svc = &Service{
		Store:      store,
		Vouchers:   &voucher.Service{Store: store, Now: func() time.Time { return fixedNow }},
		Gateway:    f.gateway,
		Events:     f.emitter,
		Expiry:     f.expiry,
		Policy:     ConsumeOnOrder,
		PaymentTTL: 15 * time.Minute,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("order-%d", seq)
		},
		Now:    func() time.Time { return fixedNow },
		Logger: zerolog.Nop(),
	}
	return f
}

func cashier() *common.Principal {
	return &common.Principal{UserID: "user-1", Role: common.RoleCashier, BranchID: "branch-1"}
}

func coffeeItems() []pricing.LineItem {
	return []pricing.LineItem{
		{ID: "latte", Name: "Latte", Price: 25000, Qty: 1, Category: "Coffee"},
		{ID: "croissant", Name: "Croissant", Price: 25000, Qty: 1, Category: "Pastry"},
	}
}

func i64(v int64) *int64 { return &v }

func (f *fixture) onlineOrder(t *testing.T, voucherID string) Checkout {
	t.Helper()
	req := OnlineRequest{
		BranchID:     "branch-1",
		Items:        coffeeItems(),
		VoucherID:    voucherID,
		CustomerName: "Rina",
		WhatsApp:     "081234567890",
	}
	out, err := f.svc.CreateOnline(context.Background(), req)
	require.NoError(t, err)
	return out
}

func notification(orderID, status, fraud string, amount int64) payment.Notification {
	return payment.Notification{
		OrderID:           orderID,
		StatusCode:        "200",
		GrossAmount:       money.FormatAmount(amount),
		TransactionStatus: status,
		FraudStatus:       fraud,
	}
}

func TestCreateCashPersistsPaidOrder(t *testing.T) {
	f := newFixture(t)
	o, err := f.svc.CreateCash(context.Background(), cashier(), CashRequest{Items: coffeeItems()})
	require.NoError(t, err)

	stored := f.store.order(o.ID)
	require.Equal(t, StatusPaid, stored.Status)
	require.Equal(t, pricing.PaymentCash, stored.PaymentType)
	require.Equal(t, pricing.SourceCashierPOS, stored.OrderSource)
	require.Equal(t, pricing.OrderTypeDineIn, stored.OrderType)
	require.Equal(t, int64(50000), stored.TotalAmount)
	require.Equal(t, "branch-1", stored.BranchID)
	require.Equal(t, "user-1", *stored.CashierID)
	require.Equal(t, []string{events.TopicOrderCreated}, f.emitter.topics())
	require.Empty(t, f.gateway.requests)
}

func TestCreateCashDistinguishesAuthErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateCash(context.Background(), nil, CashRequest{Items: coffeeItems()})
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.Equal(t, http.StatusUnauthorized, common.StatusOf(err))

	_, err = f.svc.CreateCash(context.Background(), &common.Principal{UserID: "u"}, CashRequest{Items: coffeeItems()})
	require.ErrorIs(t, err, ErrNoBranch)
	require.Equal(t, http.StatusForbidden, common.StatusOf(err))
	require.Empty(t, f.store.orders)
}

func TestCreateCashRejectsInvalidCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateCash(context.Background(), cashier(), CashRequest{})
	require.Equal(t, http.StatusBadRequest, common.StatusOf(err))

	_, err = f.svc.CreateCash(context.Background(), cashier(), CashRequest{Items: coffeeItems(), Subtotal: i64(1)})
	require.Equal(t, http.StatusBadRequest, common.StatusOf(err))
	require.Empty(t, f.store.orders)
}

func TestCreateCashConsumesVoucherOnce(t *testing.T) {
	f := newFixture(t)
	o, err := f.svc.CreateCash(context.Background(), cashier(), CashRequest{
		Items:          coffeeItems(),
		VoucherID:      "vcr-001",
		DiscountAmount: i64(10000),
	})
	require.NoError(t, err)
	require.Equal(t, int64(40000), o.TotalAmount)
	require.Equal(t, 1, f.store.voucherCount("vcr-001"))
}

func TestCreateCashRejectsUnusableVoucher(t *testing.T) {
	f := newFixture(t)
	v := f.store.vouchers["vcr-001"]
	v.Active = false
	f.store.vouchers["vcr-001"] = v

	_, err := f.svc.CreateCash(context.Background(), cashier(), CashRequest{Items: coffeeItems(), VoucherID: "vcr-001"})
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, common.StatusOf(err))
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "VOUCHER_INACTIVE", appErr.Code)
	require.Empty(t, f.store.orders)
}

func TestCreateOnlineSendsDiscountLine(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.CreateOnline(context.Background(), OnlineRequest{
		BranchID:       "branch-1",
		Items:          coffeeItems(),
		VoucherID:      "vcr-001",
		Subtotal:       i64(50000),
		DiscountAmount: i64(10000),
		CustomerName:   "Rina",
		WhatsApp:       "081234567890",
	})
	require.NoError(t, err)
	require.Equal(t, "snap-"+out.OrderID, out.Token)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	require.Equal(t, int64(40000), req.GrossAmount)
	last := req.Items[len(req.Items)-1]
	require.Equal(t, "DISCOUNT", last.ID)
	require.Equal(t, int64(-10000), last.Price)
	require.Equal(t, 1, last.Quantity)

	stored := f.store.order(out.OrderID)
	require.Equal(t, StatusPending, stored.Status)
	require.Equal(t, pricing.PaymentQRIS, stored.PaymentType)
	require.Equal(t, pricing.SourceWebCustomer, stored.OrderSource)
	require.Equal(t, out.Token, *stored.SnapToken)
	require.Equal(t, 1, f.store.voucherCount("vcr-001"))
	require.Equal(t, 15*time.Minute, f.expiry.scheduled[out.OrderID])
}

func TestCreateOnlineGatewayFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("connection refused")
	_, err := f.svc.CreateOnline(context.Background(), OnlineRequest{
		BranchID:     "branch-1",
		Items:        coffeeItems(),
		VoucherID:    "vcr-001",
		CustomerName: "Rina",
		WhatsApp:     "0812",
	})
	require.ErrorIs(t, err, ErrGateway)
	require.Equal(t, http.StatusInternalServerError, common.StatusOf(err))
	require.Empty(t, f.store.orders)
	require.Zero(t, f.store.voucherCount("vcr-001"))
	require.Empty(t, f.emitter.topics())
}

func TestCreateOnlineValidatesBranch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOnline(context.Background(), OnlineRequest{Items: coffeeItems(), CustomerName: "a", WhatsApp: "1"})
	require.Equal(t, http.StatusBadRequest, common.StatusOf(err))

	_, err = f.svc.CreateOnline(context.Background(), OnlineRequest{BranchID: "nowhere", Items: coffeeItems(), CustomerName: "a", WhatsApp: "1"})
	require.ErrorIs(t, err, ErrUnknownBranch)
	require.Empty(t, f.gateway.requests)
}

func TestSettlementPaysOrderOnce(t *testing.T) {
	f := newFixture(t)
	f.svc.Policy = ConsumeOnSettlement
	out := f.onlineOrder(t, "vcr-001")
	require.Zero(t, f.store.voucherCount("vcr-001"))

	n := notification(out.OrderID, "settlement", "accept", out.TotalAmount)
	rec, err := f.svc.ApplyNotification(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, ResultApplied, rec.Result)
	require.Equal(t, StatusPaid, f.store.order(out.OrderID).Status)
	require.Equal(t, 1, f.store.voucherCount("vcr-001"))

	rec, err = f.svc.ApplyNotification(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, rec.Result)
	require.Equal(t, 1, f.store.voucherCount("vcr-001"))
	require.Equal(t, 1, f.store.updates)
	require.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderPaid}, f.emitter.topics())
}

func TestSettlementDoesNotConsumeTwiceUnderOrderPolicy(t *testing.T) {
	f := newFixture(t)
	out := f.onlineOrder(t, "vcr-001")
	require.Equal(t, 1, f.store.voucherCount("vcr-001"))

	_, err := f.svc.ApplyNotification(context.Background(), notification(out.OrderID, "capture", "accept", out.TotalAmount))
	require.NoError(t, err)
	require.Equal(t, 1, f.store.voucherCount("vcr-001"))
}

func TestConcurrentDuplicateSettlements(t *testing.T) {
	f := newFixture(t)
	f.svc.Policy = ConsumeOnSettlement
	out := f.onlineOrder(t, "vcr-001")
	n := notification(out.OrderID, "settlement", "accept", out.TotalAmount)

	const deliveries = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		errs    = make(chan error, deliveries)
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := f.svc.ApplyNotification(context.Background(), n)
			if err != nil {
				errs <- err
				return
			}
			if rec.Result == ResultApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, applied)
	require.Equal(t, 1, f.store.updates)
	require.Equal(t, 1, f.store.voucherCount("vcr-001"))
}

func TestCancelNotificationFailsOrder(t *testing.T) {
	f := newFixture(t)
	out := f.onlineOrder(t, "")
	rec, err := f.svc.ApplyNotification(context.Background(), notification(out.OrderID, "cancel", "", out.TotalAmount))
	require.NoError(t, err)
	require.Equal(t, ResultApplied, rec.Result)
	require.Equal(t, StatusFailed, f.store.order(out.OrderID).Status)

	// absorbing: a late settlement cannot revive it
	rec, err = f.svc.ApplyNotification(context.Background(), notification(out.OrderID, "settlement", "accept", out.TotalAmount))
	require.NoError(t, err)
	require.Equal(t, ResultStale, rec.Result)
	require.Equal(t, StatusFailed, f.store.order(out.OrderID).Status)
}

func TestChallengeLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	out := f.onlineOrder(t, "")
	rec, err := f.svc.ApplyNotification(context.Background(), notification(out.OrderID, "capture", "challenge", out.TotalAmount))
	require.NoError(t, err)
	require.Equal(t, ResultIgnored, rec.Result)
	require.Equal(t, StatusPending, f.store.order(out.OrderID).Status)
	require.Zero(t, f.store.updates)
}

func TestNotificationForUnknownOrder(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.ApplyNotification(context.Background(), notification("missing", "settlement", "accept", 1000))
	require.NoError(t, err)
	require.Equal(t, ResultNotFound, rec.Result)
	require.Zero(t, f.store.updates)
}

func TestNotificationAmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.svc.Policy = ConsumeOnSettlement
	out := f.onlineOrder(t, "vcr-001")
	_, err := f.svc.ApplyNotification(context.Background(), notification(out.OrderID, "settlement", "accept", out.TotalAmount+1))
	require.ErrorIs(t, err, ErrAmountMismatch)
	require.Equal(t, http.StatusBadRequest, common.StatusOf(err))
	require.Equal(t, StatusPending, f.store.order(out.OrderID).Status)
	require.Zero(t, f.store.voucherCount("vcr-001"))
}

func TestAdvanceKitchenWorkflow(t *testing.T) {
	f := newFixture(t)
	o, err := f.svc.CreateCash(context.Background(), cashier(), CashRequest{Items: coffeeItems(), WhatsApp: "0812"})
	require.NoError(t, err)

	barista := &common.Principal{UserID: "barista-1", Role: common.RoleBarista, BranchID: "branch-1"}
	for _, want := range []Status{StatusPreparing, StatusReady, StatusCompleted} {
		got, err := f.svc.Advance(context.Background(), barista, o.ID, "")
		require.NoError(t, err)
		require.Equal(t, want, got.Status)
	}
	_, err = f.svc.Advance(context.Background(), barista, o.ID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.Equal(t, []string{
		events.TopicOrderCreated,
		events.TopicOrderPreparing,
		events.TopicOrderReady,
		events.TopicOrderCompleted,
	}, f.emitter.topics())
	require.Equal(t, 2, f.emitter.customerNotifications())
}

func TestAdvanceRejections(t *testing.T) {
	f := newFixture(t)
	o, err := f.svc.CreateCash(context.Background(), cashier(), CashRequest{Items: coffeeItems()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.svc.Advance(ctx, nil, o.ID, "")
	require.Equal(t, http.StatusUnauthorized, common.StatusOf(err))

	_, err = f.svc.Advance(ctx, &common.Principal{UserID: "u", Role: common.RoleBarista}, o.ID, "")
	require.ErrorIs(t, err, ErrNoBranch)

	other := &common.Principal{UserID: "u", Role: common.RoleBarista, BranchID: "branch-2"}
	_, err = f.svc.Advance(ctx, other, o.ID, "")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Advance(ctx, cashier(), "missing", "")
	require.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.svc.Advance(ctx, cashier(), o.ID, StatusReady)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, http.StatusConflict, common.StatusOf(err))

	admin := &common.Principal{UserID: "root", Role: common.RoleAdmin}
	got, err := f.svc.Advance(ctx, admin, o.ID, StatusPreparing)
	require.NoError(t, err)
	require.Equal(t, StatusPreparing, got.Status)
}

func TestAdvanceRejectsUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	out := f.onlineOrder(t, "")
	_, err := f.svc.Advance(context.Background(), cashier(), out.OrderID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusPending, f.store.order(out.OrderID).Status)
}

func TestExpireOnlyTouchesPending(t *testing.T) {
	f := newFixture(t)
	out := f.onlineOrder(t, "")
	ok, err := f.svc.Expire(context.Background(), out.OrderID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusExpired, f.store.order(out.OrderID).Status)

	ok, err = f.svc.Expire(context.Background(), out.OrderID)
	require.NoError(t, err)
	require.False(t, ok)

	paid, err := f.svc.CreateCash(context.Background(), cashier(), CashRequest{Items: coffeeItems()})
	require.NoError(t, err)
	ok, err = f.svc.Expire(context.Background(), paid.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, StatusPaid, f.store.order(paid.ID).Status)

	ok, err = f.svc.Expire(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKitchenListsBranchOrders(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateCash(context.Background(), cashier(), CashRequest{Items: coffeeItems()})
	require.NoError(t, err)
	f.onlineOrder(t, "")

	orders, err := f.svc.Kitchen(context.Background(), cashier(), "", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, StatusPaid, orders[0].Status)

	_, err = f.svc.Kitchen(context.Background(), cashier(), "branch-2", 0)
	require.ErrorIs(t, err, ErrForbidden)
}

// ctxEventStore fails like a database driver once its context is done.
type ctxEventStore struct{}

func (ctxEventStore) InsertEvent(ctx context.Context, topic, aggregateID string, payload []byte) (events.Event, error) {
	if err := ctx.Err(); err != nil {
		return events.Event{}, err
	}
	return events.Event{ID: aggregateID + ":" + topic, Topic: topic, AggregateID: aggregateID, Payload: payload}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	topics []string
}

func (n *recordingNotifier) Notify(ctx context.Context, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, ev.Topic)
	return nil
}

func TestEventsSurviveClientDisconnectAfterCommit(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.svc.Events = &events.Bus{Store: ctxEventStore{}, Notifiers: []events.Notifier{notifier}}

	ctx, cancel := context.WithCancel(context.Background())
	f.store.afterCommit = cancel
	o, err := f.svc.CreateCash(ctx, cashier(), CashRequest{Items: coffeeItems(), WhatsApp: "0812"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	barista := &common.Principal{UserID: "barista-1", Role: common.RoleBarista, BranchID: "branch-1"}
	ctx, cancel = context.WithCancel(context.Background())
	f.store.afterCommit = cancel
	_, err = f.svc.Advance(ctx, barista, o.ID, "")
	require.NoError(t, err)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderPreparing}, notifier.topics)
}
