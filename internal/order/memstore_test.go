package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/payment"
	"github.com/noah-isme/kopi-pos/internal/voucher"
)

// memStore is an in-memory Store. Transactions are serialised and roll back
// on error, which is enough to model row locks in tests.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders   map[string]Order
	vouchers map[string]voucher.Voucher
	usages   map[string]voucher.Usage
	branches map[string]bool

	reads   int
	updates int

	// afterCommit runs once a transaction function succeeds.
	afterCommit func()
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[string]Order{},
		vouchers: map[string]voucher.Voucher{},
		usages:   map[string]voucher.Usage{},
		branches: map[string]bool{"branch-1": true, "branch-2": true},
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	orders := cloneMap(m.orders)
	vouchers := cloneMap(m.vouchers)
	usages := cloneMap(m.usages)
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.orders, m.vouchers, m.usages = orders, vouchers, usages
		m.mu.Unlock()
		return err
	}
	if m.afterCommit != nil {
		m.afterCommit()
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) InsertOrder(_ context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return Order{}, errors.New("duplicate order id")
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *memStore) GetOrder(_ context.Context, id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *memStore) GetOrderForUpdate(ctx context.Context, id string) (Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *memStore) UpdateOrderStatus(_ context.Context, id string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	m.orders[id] = o
	m.updates++
	return true, nil
}

func (m *memStore) ListOrdersByStatus(_ context.Context, branchID string, statuses []Status, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.BranchID != branchID {
			continue
		}
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, o)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) BranchExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.branches[id], nil
}

func (m *memStore) LockVoucher(_ context.Context, id string) (voucher.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return voucher.Voucher{}, voucher.ErrNotFound
	}
	return v, nil
}

func (m *memStore) HasVoucherUsage(_ context.Context, voucherID, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.usages[voucherID+":"+orderID]
	return ok, nil
}

func (m *memStore) InsertVoucherUsage(_ context.Context, u voucher.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usages[u.VoucherID+":"+u.OrderID] = u
	return nil
}

func (m *memStore) IncrementVoucherUsage(_ context.Context, voucherID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.vouchers[voucherID]
	v.UsageCount++
	m.vouchers[voucherID] = v
	return nil
}

// voucher.Store, so a real voucher.Service can evaluate against this store.

func (m *memStore) GetVoucherByCode(_ context.Context, code string) (voucher.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if strings.EqualFold(v.Code, code) {
			return v, nil
		}
	}
	return voucher.Voucher{}, voucher.ErrNotFound
}

func (m *memStore) GetVoucherByID(ctx context.Context, id string) (voucher.Voucher, error) {
	return m.LockVoucher(ctx, id)
}

func (m *memStore) CountVoucherUsageByCustomer(_ context.Context, voucherID, customer string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.usages {
		if u.VoucherID == voucherID && u.Customer == customer {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateVoucher(context.Context, voucher.Voucher) (voucher.Voucher, error) {
	return voucher.Voucher{}, errors.New("not supported")
}

func (m *memStore) UpdateVoucher(context.Context, voucher.Voucher) (voucher.Voucher, error) {
	return voucher.Voucher{}, errors.New("not supported")
}

func (m *memStore) ListVouchers(context.Context, int, int) ([]voucher.Voucher, int, error) {
	return nil, 0, errors.New("not supported")
}

func (m *memStore) order(id string) Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memStore) voucherCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vouchers[id].UsageCount
}

type emitted struct {
	topic   string
	payload events.OrderPayload
}

type captureEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (c *captureEmitter) Emit(_ context.Context, topic, aggregateID string, payload any) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, _ := payload.(events.OrderPayload)
	c.events = append(c.events, emitted{topic: topic, payload: p})
	return events.Event{ID: aggregateID + ":" + topic, Topic: topic, AggregateID: aggregateID}, nil
}

func (c *captureEmitter) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.topic)
	}
	return out
}

func (c *captureEmitter) customerNotifications() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.payload.NotifyCustomer {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []payment.TransactionRequest
	err      error
}

func (g *fakeGateway) CreateTransaction(_ context.Context, req payment.TransactionRequest) (payment.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return payment.Transaction{}, g.err
	}
	return payment.Transaction{Token: "snap-" + req.OrderID, RedirectURL: "https://pay.example/" + req.OrderID}, nil
}

type fakeExpiry struct {
	scheduled map[string]time.Duration
}

func (f *fakeExpiry) ScheduleExpiry(_ context.Context, orderID string, after time.Duration) error {
	if f.scheduled == nil {
		f.scheduled = map[string]time.Duration{}
	}
	f.scheduled[orderID] = after
	return nil
}
