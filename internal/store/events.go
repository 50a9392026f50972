package store

import (
	"context"

	"github.com/noah-isme/kopi-pos/internal/events"
)

// InsertEvent appends to order_events.
func (q *Queries) InsertEvent(ctx context.Context, topic, aggregateID string, payload []byte) (events.Event, error) {
	var ev events.Event
	err := q.db.QueryRow(ctx, `INSERT INTO order_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id::text, topic, aggregate_id, payload, occurred_at`, topic, aggregateID, payload).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}

// ListEvents returns the event history of one order, oldest first.
func (q *Queries) ListEvents(ctx context.Context, aggregateID string) ([]events.Event, error) {
	rows, err := q.db.Query(ctx, `SELECT id::text, topic, aggregate_id, payload, occurred_at
FROM order_events WHERE aggregate_id = $1 ORDER BY occurred_at ASC`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var ev events.Event
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
