package store

import (
	"context"
	"time"

	"github.com/noah-isme/kopi-pos/internal/analytics"
)

// settledStatuses are the statuses that count as revenue.
var settledStatuses = []string{"PAID", "PREPARING", "READY", "COMPLETED"}

// DailyRevenue aggregates settled orders per branch and day.
func (q *Queries) DailyRevenue(ctx context.Context, branchID string, from, to time.Time) ([]analytics.DailyRevenue, error) {
	rows, err := q.db.Query(ctx, `SELECT date_trunc('day', created_at) AS day, branch_id,
	COUNT(*), COALESCE(SUM(subtotal), 0), COALESCE(SUM(discount_amount), 0), COALESCE(SUM(total_amount), 0)
FROM orders
WHERE status = ANY($1) AND created_at >= $2 AND created_at < $3 AND ($4 = '' OR branch_id = $4)
GROUP BY day, branch_id
ORDER BY day ASC, branch_id ASC`, settledStatuses, from, to, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]analytics.DailyRevenue, 0)
	for rows.Next() {
		var r analytics.DailyRevenue
		if err := rows.Scan(&r.Day, &r.BranchID, &r.Orders, &r.Gross, &r.Discount, &r.Revenue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopItems ranks items by units sold across settled orders.
func (q *Queries) TopItems(ctx context.Context, branchID string, from, to time.Time, limit int) ([]analytics.TopItem, error) {
	rows, err := q.db.Query(ctx, `SELECT item->>'id', MAX(item->>'name'),
	SUM((item->>'qty')::bigint), SUM((item->>'price')::bigint * (item->>'qty')::bigint)
FROM orders, jsonb_array_elements(items) AS item
WHERE status = ANY($1) AND created_at >= $2 AND created_at < $3 AND ($4 = '' OR branch_id = $4)
GROUP BY item->>'id'
ORDER BY 3 DESC, 4 DESC
LIMIT $5`, settledStatuses, from, to, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]analytics.TopItem, 0, limit)
	for rows.Next() {
		var it analytics.TopItem
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Qty, &it.Revenue); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
