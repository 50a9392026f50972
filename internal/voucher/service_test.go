package voucher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubStore struct {
	vouchers   map[string]Voucher
	lookups    []string
	usageCount int
	usageErr   error
	created    []Voucher
}

func (s *stubStore) GetVoucherByCode(_ context.Context, code string) (Voucher, error) {
	s.lookups = append(s.lookups, code)
	for _, v := range s.vouchers {
		if v.Code == code {
			return v, nil
		}
	}
	return Voucher{}, ErrNotFound
}

func (s *stubStore) GetVoucherByID(_ context.Context, id string) (Voucher, error) {
	v, ok := s.vouchers[id]
	if !ok {
		return Voucher{}, ErrNotFound
	}
	return v, nil
}

func (s *stubStore) CountVoucherUsageByCustomer(context.Context, string, string) (int, error) {
	return s.usageCount, s.usageErr
}

func (s *stubStore) CreateVoucher(_ context.Context, v Voucher) (Voucher, error) {
	for _, existing := range s.vouchers {
		if existing.Code == v.Code {
			return Voucher{}, ErrDuplicateCode
		}
	}
	v.ID = "vcr-new"
	s.created = append(s.created, v)
	return v, nil
}

func (s *stubStore) UpdateVoucher(_ context.Context, v Voucher) (Voucher, error) {
	if _, ok := s.vouchers[v.ID]; !ok {
		return Voucher{}, ErrNotFound
	}
	s.vouchers[v.ID] = v
	return v, nil
}

func (s *stubStore) ListVouchers(context.Context, int, int) ([]Voucher, int, error) {
	out := make([]Voucher, 0, len(s.vouchers))
	for _, v := range s.vouchers {
		out = append(out, v)
	}
	return out, len(out), nil
}

func newService(store *stubStore) *Service {
	return &Service{Store: store, Now: func() time.Time { return evalNow }}
}

func TestValidateNormalisesCode(t *testing.T) {
	store := &stubStore{vouchers: map[string]Voucher{"vcr-001": *baseVoucher()}}
	d, err := newService(store).Validate(context.Background(), "discount20", Cart{Total: 100_000})
	require.NoError(t, err)
	require.Equal(t, []string{"DISCOUNT20"}, store.lookups)
	require.True(t, d.Valid)
	require.Equal(t, int64(20_000), d.Discount)
}

func TestValidateUnknownCodeIsRejection(t *testing.T) {
	store := &stubStore{vouchers: map[string]Voucher{}}
	d, err := newService(store).Validate(context.Background(), "nope", Cart{Total: 100})
	require.NoError(t, err)
	require.False(t, d.Valid)
	require.ErrorIs(t, d.Err, ErrNotFound)
}

func TestValidateLoadsCustomerUsage(t *testing.T) {
	v := *baseVoucher()
	v.PerUserLimit = intPtr(2)
	store := &stubStore{vouchers: map[string]Voucher{v.ID: v}, usageCount: 2}
	svc := newService(store)

	d, err := svc.ValidateByID(context.Background(), v.ID, Cart{Total: 50_000, Customer: "0812"})
	require.NoError(t, err)
	require.ErrorIs(t, d.Err, ErrPerUserLimitReached)

	// anonymous carts are not subject to the per-customer limit
	d, err = svc.ValidateByID(context.Background(), v.ID, Cart{Total: 50_000})
	require.NoError(t, err)
	require.True(t, d.Valid)
}

func TestValidatePropagatesStoreErrors(t *testing.T) {
	v := *baseVoucher()
	v.PerUserLimit = intPtr(1)
	store := &stubStore{vouchers: map[string]Voucher{v.ID: v}, usageErr: errors.New("db down")}
	_, err := newService(store).Validate(context.Background(), v.Code, Cart{Total: 1, Customer: "0812"})
	require.Error(t, err)
}

func TestValidateUsesBusinessLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	v := *baseVoucher()
	v.HappyHourStart, v.HappyHourEnd = "22:00", "23:00"
	store := &stubStore{vouchers: map[string]Voucher{v.ID: v}}
	svc := &Service{Store: store, Location: jakarta, Now: func() time.Time {
		return time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC) // 22:30 WIB
	}}
	d, err := svc.Validate(context.Background(), v.Code, Cart{Total: 10_000})
	require.NoError(t, err)
	require.True(t, d.Valid)
}

type memLedger struct {
	mu       sync.Mutex
	vouchers map[string]*Voucher
	usages   map[string]Usage
}

func newMemLedger(vs ...Voucher) *memLedger {
	l := &memLedger{vouchers: map[string]*Voucher{}, usages: map[string]Usage{}}
	for i := range vs {
		v := vs[i]
		l.vouchers[v.ID] = &v
	}
	return l
}

// tx serialises callers the way the row lock taken by LockVoucher does.
func (l *memLedger) tx(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

func (l *memLedger) LockVoucher(_ context.Context, id string) (Voucher, error) {
	v, ok := l.vouchers[id]
	if !ok {
		return Voucher{}, ErrNotFound
	}
	return *v, nil
}

func (l *memLedger) HasVoucherUsage(_ context.Context, voucherID, orderID string) (bool, error) {
	_, ok := l.usages[voucherID+"/"+orderID]
	return ok, nil
}

func (l *memLedger) InsertVoucherUsage(_ context.Context, u Usage) error {
	l.usages[u.VoucherID+"/"+u.OrderID] = u
	return nil
}

func (l *memLedger) IncrementVoucherUsage(_ context.Context, id string) error {
	l.vouchers[id].UsageCount++
	return nil
}

func TestConsumeIsIdempotentPerOrder(t *testing.T) {
	ledger := newMemLedger(*baseVoucher())
	ctx := context.Background()
	usage := Usage{VoucherID: "vcr-001", OrderID: "order-1", Amount: 10_000}

	var first, second bool
	require.NoError(t, ledger.tx(func() (err error) { first, err = Consume(ctx, ledger, usage); return }))
	require.NoError(t, ledger.tx(func() (err error) { second, err = Consume(ctx, ledger, usage); return }))
	require.True(t, first)
	require.False(t, second)
	require.Equal(t, 1, ledger.vouchers["vcr-001"].UsageCount)
}

func TestConsumeHonoursUsageLimitUnderConcurrency(t *testing.T) {
	v := *baseVoucher()
	v.UsageLimit = intPtr(3)
	ledger := newMemLedger(v)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
		limited  int
		errs     = make(chan error, 10)
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := ledger.tx(func() error {
				ok, err := Consume(ctx, ledger, Usage{VoucherID: v.ID, OrderID: string(rune('a' + i))})
				mu.Lock()
				defer mu.Unlock()
				if ok {
					consumed++
				}
				if errors.Is(err, ErrUsageLimitReached) {
					limited++
					return nil
				}
				return err
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 3, consumed)
	require.Equal(t, 7, limited)
	require.Equal(t, 3, ledger.vouchers[v.ID].UsageCount)
}

func TestConsumeUnknownVoucher(t *testing.T) {
	ledger := newMemLedger()
	_, err := Consume(context.Background(), ledger, Usage{VoucherID: "missing", OrderID: "o"})
	require.ErrorIs(t, err, ErrNotFound)
}
