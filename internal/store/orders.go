package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/kopi-pos/internal/order"
	"github.com/noah-isme/kopi-pos/internal/pricing"
)

const orderColumns = `id, branch_id, customer_name, whatsapp, items, subtotal, discount_amount, total_amount,
voucher_id, status, order_type, order_source, payment_type, snap_token, cashier_id, table_number, notes,
created_at, updated_at`

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o     order.Order
		items []byte
	)
	err := row.Scan(
		&o.ID, &o.BranchID, &o.CustomerName, &o.WhatsApp, &items,
		&o.Subtotal, &o.DiscountAmount, &o.TotalAmount,
		&o.VoucherID, &o.Status, &o.OrderType, &o.OrderSource, &o.PaymentType,
		&o.SnapToken, &o.CashierID, &o.TableNumber, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	return o, nil
}

// InsertOrder persists a new order.
func (q *Queries) InsertOrder(ctx context.Context, o order.Order) (order.Order, error) {
	items := o.Items
	if items == nil {
		items = []pricing.LineItem{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return order.Order{}, fmt.Errorf("encode order items: %w", err)
	}
	row := q.db.QueryRow(ctx, `INSERT INTO orders (
	id, branch_id, customer_name, whatsapp, items, subtotal, discount_amount, total_amount,
	voucher_id, status, order_type, order_source, payment_type, snap_token, cashier_id, table_number, notes,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
RETURNING `+orderColumns,
		o.ID, o.BranchID, o.CustomerName, o.WhatsApp, encoded, o.Subtotal, o.DiscountAmount, o.TotalAmount,
		o.VoucherID, o.Status, o.OrderType, o.OrderSource, o.PaymentType, o.SnapToken, o.CashierID, o.TableNumber, o.Notes,
		o.CreatedAt,
	)
	return scanOrder(row)
}

// GetOrder loads an order without locking it.
func (q *Queries) GetOrder(ctx context.Context, id string) (order.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderForUpdate loads an order and holds its row lock until the
// surrounding transaction ends.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id string) (order.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

// UpdateOrderStatus moves an order from one status to another. It reports
// false when the row was not in from.
func (q *Queries) UpdateOrderStatus(ctx context.Context, id string, from, to order.Status) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOrdersByStatus returns the oldest orders of a branch in the given
// statuses.
func (q *Queries) ListOrdersByStatus(ctx context.Context, branchID string, statuses []order.Status, limit int) ([]order.Order, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	rows, err := q.db.Query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE branch_id = $1 AND status = ANY($2)
ORDER BY created_at ASC
LIMIT $3`, branchID, names, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
