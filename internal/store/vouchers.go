package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/kopi-pos/internal/voucher"
)

const voucherColumns = `id, code, description, type, value, min_purchase, max_discount, usage_limit, usage_count,
per_user_limit, valid_from, valid_until, active, applicable_items, applicable_categories, applicable_branches,
happy_hour_start, happy_hour_end, buy_quantity, get_quantity, created_at, updated_at`

func scanVoucher(row pgx.Row) (voucher.Voucher, error) {
	var (
		v          voucher.Voucher
		start, end *string
	)
	err := row.Scan(
		&v.ID, &v.Code, &v.Description, &v.Type, &v.Value, &v.MinPurchase, &v.MaxDiscount,
		&v.UsageLimit, &v.UsageCount, &v.PerUserLimit, &v.ValidFrom, &v.ValidUntil, &v.Active,
		&v.ApplicableItems, &v.ApplicableCategories, &v.ApplicableBranches,
		&start, &end, &v.BuyQuantity, &v.GetQuantity, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return voucher.Voucher{}, voucher.ErrNotFound
	}
	if err != nil {
		return voucher.Voucher{}, err
	}
	if start != nil {
		v.HappyHourStart = *start
	}
	if end != nil {
		v.HappyHourEnd = *end
	}
	return v, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetVoucherByCode looks a voucher up by its normalised code.
func (q *Queries) GetVoucherByCode(ctx context.Context, code string) (voucher.Voucher, error) {
	return scanVoucher(q.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code))
}

// GetVoucherByID looks a voucher up by id.
func (q *Queries) GetVoucherByID(ctx context.Context, id string) (voucher.Voucher, error) {
	return scanVoucher(q.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id))
}

// LockVoucher loads a voucher with a row lock held for the transaction.
func (q *Queries) LockVoucher(ctx context.Context, id string) (voucher.Voucher, error) {
	return scanVoucher(q.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1 FOR UPDATE`, id))
}

// CreateVoucher inserts a voucher and returns the stored row.
func (q *Queries) CreateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO vouchers (
	code, description, type, value, min_purchase, max_discount, usage_limit, per_user_limit,
	valid_from, valid_until, active, applicable_items, applicable_categories, applicable_branches,
	happy_hour_start, happy_hour_end, buy_quantity, get_quantity
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING `+voucherColumns,
		v.Code, v.Description, v.Type, v.Value, v.MinPurchase, v.MaxDiscount, v.UsageLimit, v.PerUserLimit,
		v.ValidFrom, v.ValidUntil, v.Active, v.ApplicableItems, v.ApplicableCategories, v.ApplicableBranches,
		nullableText(v.HappyHourStart), nullableText(v.HappyHourEnd), v.BuyQuantity, v.GetQuantity,
	)
	created, err := scanVoucher(row)
	if isUniqueViolation(err) {
		return voucher.Voucher{}, voucher.ErrDuplicateCode
	}
	return created, err
}

// UpdateVoucher replaces the editable fields of a voucher. usage_count is
// never written here.
func (q *Queries) UpdateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	row := q.db.QueryRow(ctx, `UPDATE vouchers SET
	code = $2, description = $3, type = $4, value = $5, min_purchase = $6, max_discount = $7,
	usage_limit = $8, per_user_limit = $9, valid_from = $10, valid_until = $11, active = $12,
	applicable_items = $13, applicable_categories = $14, applicable_branches = $15,
	happy_hour_start = $16, happy_hour_end = $17, buy_quantity = $18, get_quantity = $19,
	updated_at = NOW()
WHERE id = $1
RETURNING `+voucherColumns,
		v.ID, v.Code, v.Description, v.Type, v.Value, v.MinPurchase, v.MaxDiscount,
		v.UsageLimit, v.PerUserLimit, v.ValidFrom, v.ValidUntil, v.Active,
		v.ApplicableItems, v.ApplicableCategories, v.ApplicableBranches,
		nullableText(v.HappyHourStart), nullableText(v.HappyHourEnd), v.BuyQuantity, v.GetQuantity,
	)
	updated, err := scanVoucher(row)
	if isUniqueViolation(err) {
		return voucher.Voucher{}, voucher.ErrDuplicateCode
	}
	return updated, err
}

// ListVouchers pages through vouchers, newest first, with the total count.
func (q *Queries) ListVouchers(ctx context.Context, limit, offset int) ([]voucher.Voucher, int, error) {
	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM vouchers`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]voucher.Voucher, 0, limit)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// CountVoucherUsageByCustomer counts ledger rows for a customer.
func (q *Queries) CountVoucherUsageByCustomer(ctx context.Context, voucherID, customer string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM voucher_usages WHERE voucher_id = $1 AND customer = $2`, voucherID, customer).Scan(&n)
	return n, err
}

// HasVoucherUsage reports whether orderID already consumed the voucher.
func (q *Queries) HasVoucherUsage(ctx context.Context, voucherID, orderID string) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM voucher_usages WHERE voucher_id = $1 AND order_id = $2)`, voucherID, orderID).Scan(&ok)
	return ok, err
}

// InsertVoucherUsage appends a ledger row.
func (q *Queries) InsertVoucherUsage(ctx context.Context, u voucher.Usage) error {
	_, err := q.db.Exec(ctx, `INSERT INTO voucher_usages (voucher_id, order_id, customer, amount) VALUES ($1, $2, $3, $4)`,
		u.VoucherID, u.OrderID, u.Customer, u.Amount)
	if isUniqueViolation(err) {
		return fmt.Errorf("voucher %s already used by order %s: %w", u.VoucherID, u.OrderID, err)
	}
	return err
}

// IncrementVoucherUsage bumps usage_count; the table constraint keeps it
// within usage_limit.
func (q *Queries) IncrementVoucherUsage(ctx context.Context, voucherID string) error {
	tag, err := q.db.Exec(ctx, `UPDATE vouchers SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1`, voucherID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return voucher.ErrNotFound
	}
	return nil
}
