package voucher

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/kopi-pos/internal/money"
)

var (
	ErrNotFound            = errors.New("voucher not found")
	ErrInactive            = errors.New("voucher is inactive")
	ErrNotYetValid         = errors.New("voucher is not yet valid")
	ErrExpired             = errors.New("voucher has expired")
	ErrUsageLimitReached   = errors.New("voucher usage limit reached")
	ErrPerUserLimitReached = errors.New("voucher per-customer limit reached")
	ErrMinimumPurchase     = errors.New("minimum purchase not met")
	ErrCategoryMismatch    = errors.New("voucher does not apply to these categories")
	ErrItemMismatch        = errors.New("voucher does not apply to these items")
	ErrOutsideHappyHour    = errors.New("voucher is only valid during happy hour")
	ErrBranchMismatch      = errors.New("voucher is not valid at this branch")
)

var reasonCodes = map[error]string{
	ErrNotFound:            "VOUCHER_NOT_FOUND",
	ErrInactive:            "VOUCHER_INACTIVE",
	ErrNotYetValid:         "VOUCHER_NOT_YET_VALID",
	ErrExpired:             "VOUCHER_EXPIRED",
	ErrUsageLimitReached:   "VOUCHER_USAGE_LIMIT",
	ErrPerUserLimitReached: "VOUCHER_PER_USER_LIMIT",
	ErrMinimumPurchase:     "VOUCHER_MIN_PURCHASE",
	ErrCategoryMismatch:    "VOUCHER_CATEGORY_MISMATCH",
	ErrItemMismatch:        "VOUCHER_ITEM_MISMATCH",
	ErrOutsideHappyHour:    "VOUCHER_OUTSIDE_HAPPY_HOUR",
	ErrBranchMismatch:      "VOUCHER_BRANCH_MISMATCH",
}

// ReasonCode maps a rejection error to its stable machine-readable code.
func ReasonCode(err error) string {
	for sentinel, code := range reasonCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "VOUCHER_INVALID"
}

// Decision is the outcome of evaluating a voucher against a cart.
type Decision struct {
	Valid    bool
	Discount int64
	Voucher  *Voucher
	Err      error
}

// Reason is the human-readable rejection message, empty when valid.
func (d Decision) Reason() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

// Rule is a single eligibility predicate. Check is only invoked with a
// non-nil voucher except for the existence rule.
type Rule struct {
	Name  string
	Check func(v *Voucher, cart Cart, now time.Time) error
}

// Rules returns the evaluation chain in order. The first failing rule decides
// the rejection reason.
func Rules() []Rule {
	return []Rule{
		{Name: "exists", Check: checkExists},
		{Name: "active", Check: checkActive},
		{Name: "valid_from", Check: checkValidFrom},
		{Name: "valid_until", Check: checkValidUntil},
		{Name: "usage_limit", Check: checkUsageLimit},
		{Name: "per_user_limit", Check: checkPerUserLimit},
		{Name: "min_purchase", Check: checkMinPurchase},
		{Name: "categories", Check: checkCategories},
		{Name: "items", Check: checkItems},
		{Name: "happy_hour", Check: checkHappyHour},
		{Name: "branches", Check: checkBranches},
	}
}

var chain = Rules()

// Evaluate decides whether v applies to cart at now and, if so, the discount.
// now is interpreted in its own location for happy-hour windows.
func Evaluate(v *Voucher, cart Cart, now time.Time) Decision {
	for _, rule := range chain {
		if err := rule.Check(v, cart, now); err != nil {
			return Decision{Voucher: v, Err: err}
		}
	}
	return Decision{Valid: true, Discount: Discount(v, cart), Voucher: v}
}

func checkExists(v *Voucher, _ Cart, _ time.Time) error {
	if v == nil {
		return ErrNotFound
	}
	return nil
}

func checkActive(v *Voucher, _ Cart, _ time.Time) error {
	if !v.Active {
		return ErrInactive
	}
	return nil
}

func checkValidFrom(v *Voucher, _ Cart, now time.Time) error {
	if !v.ValidFrom.IsZero() && now.Before(v.ValidFrom) {
		return ErrNotYetValid
	}
	return nil
}

func checkValidUntil(v *Voucher, _ Cart, now time.Time) error {
	if !v.ValidUntil.IsZero() && now.After(v.ValidUntil) {
		return ErrExpired
	}
	return nil
}

func checkUsageLimit(v *Voucher, _ Cart, _ time.Time) error {
	if v.UsageLimit != nil && v.UsageCount >= *v.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}

func checkPerUserLimit(v *Voucher, cart Cart, _ time.Time) error {
	if v.PerUserLimit == nil || *v.PerUserLimit <= 0 || cart.Customer == "" {
		return nil
	}
	if cart.CustomerUses >= *v.PerUserLimit {
		return ErrPerUserLimitReached
	}
	return nil
}

func checkMinPurchase(v *Voucher, cart Cart, _ time.Time) error {
	if cart.Total < v.MinPurchase {
		return ErrMinimumPurchase
	}
	return nil
}

func checkCategories(v *Voucher, cart Cart, _ time.Time) error {
	if len(v.ApplicableCategories) == 0 {
		return nil
	}
	for _, it := range cart.Items {
		if containsFold(v.ApplicableCategories, it.Category) {
			return nil
		}
	}
	return ErrCategoryMismatch
}

func checkItems(v *Voucher, cart Cart, _ time.Time) error {
	if len(v.ApplicableItems) == 0 {
		return nil
	}
	for _, it := range cart.Items {
		if contains(v.ApplicableItems, it.ID) {
			return nil
		}
	}
	return ErrItemMismatch
}

func checkHappyHour(v *Voucher, _ Cart, now time.Time) error {
	if v.HappyHourStart == "" || v.HappyHourEnd == "" {
		return nil
	}
	start, okStart := ParseClock(v.HappyHourStart)
	end, okEnd := ParseClock(v.HappyHourEnd)
	if !okStart || !okEnd {
		return ErrOutsideHappyHour
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		if minute >= start && minute <= end {
			return nil
		}
		return ErrOutsideHappyHour
	}
	// window wraps past midnight, e.g. 22:00-02:00
	if minute >= start || minute <= end {
		return nil
	}
	return ErrOutsideHappyHour
}

func checkBranches(v *Voucher, cart Cart, _ time.Time) error {
	if len(v.ApplicableBranches) == 0 {
		return nil
	}
	if cart.BranchID != "" && contains(v.ApplicableBranches, cart.BranchID) {
		return nil
	}
	return ErrBranchMismatch
}

// ParseClock converts "HH:MM" into minutes after midnight.
func ParseClock(value string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// Discount computes the amount v takes off cart. The result is always within
// [0, cart.Total].
func Discount(v *Voucher, cart Cart) int64 {
	if v == nil || cart.Total <= 0 {
		return 0
	}
	var d int64
	switch v.Type {
	case TypePercentage:
		d = money.Percent(cart.Total, v.Value)
		if v.MaxDiscount != nil && *v.MaxDiscount >= 0 && d > *v.MaxDiscount {
			d = *v.MaxDiscount
		}
	case TypeFixedAmount:
		d = v.Value
	case TypeFreeItem:
		if price, ok := cheapestEligible(v, cart.Items); ok {
			d = price
		} else {
			d = v.Value
		}
	case TypeBuyXGetY:
		runs := eligibleRuns(v, cart.Items)
		if len(runs) == 0 {
			d = v.Value
		} else {
			d = buyXGetY(runs, v.BuyQuantity, v.GetQuantity)
		}
	}
	return money.Clamp(d, 0, cart.Total)
}

func matchesScope(v *Voucher, it Item) bool {
	if len(v.ApplicableItems) > 0 && !contains(v.ApplicableItems, it.ID) {
		return false
	}
	if len(v.ApplicableCategories) > 0 && !containsFold(v.ApplicableCategories, it.Category) {
		return false
	}
	return true
}

func cheapestEligible(v *Voucher, items []Item) (int64, bool) {
	var (
		best  int64
		found bool
	)
	for _, it := range items {
		if it.Price <= 0 || it.Qty <= 0 || !matchesScope(v, it) {
			continue
		}
		if !found || it.Price < best {
			best = it.Price
			found = true
		}
	}
	return best, found
}

// run is a block of identical units: qty units at price each.
type run struct {
	price int64
	qty   int64
}

func eligibleRuns(v *Voucher, items []Item) []run {
	var runs []run
	for _, it := range items {
		if it.Price <= 0 || it.Qty <= 0 || !matchesScope(v, it) {
			continue
		}
		runs = append(runs, run{price: it.Price, qty: int64(it.Qty)})
	}
	return runs
}

// buyXGetY frees the getQty cheapest units of every full group of buyQty+getQty
// units, taking units in descending price order. Runs are walked as ranges of
// unit positions so the cost does not grow with quantity.
func buyXGetY(runs []run, buyQty, getQty int) int64 {
	if buyQty <= 0 {
		buyQty = 1
	}
	if getQty <= 0 {
		getQty = 1
	}
	sorted := append([]run(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].price > sorted[j].price })

	buy, group := int64(buyQty), int64(buyQty+getQty)
	var units int64
	for _, r := range sorted {
		units = satAdd(units, r.qty)
	}
	limit := units / group * group

	// freeBefore counts free positions in [0, n).
	freeBefore := func(n int64) int64 {
		return n/group*int64(getQty) + max(0, n%group-buy)
	}
	var free, pos int64
	for _, r := range sorted {
		if pos >= limit {
			break
		}
		end := min(satAdd(pos, r.qty), limit)
		n := freeBefore(end) - freeBefore(pos)
		amount, err := money.Mul(r.price, n)
		if err != nil {
			return math.MaxInt64
		}
		free = satAdd(free, amount)
		pos = end
	}
	return free
}

func satAdd(a, b int64) int64 {
	sum, err := money.Add(a, b)
	if err != nil {
		return math.MaxInt64
	}
	return sum
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	if target == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return true
		}
	}
	return false
}
