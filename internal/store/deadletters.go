package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/kopi-pos/internal/queue"
)

const deadLetterColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

// InsertQueueDlq stores a task that ran out of attempts.
func (q *Queries) InsertQueueDlq(ctx context.Context, e queue.DLQEntry) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, `INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, e.Kind, e.IdempotencyKey, e.Payload, e.Attempts, e.LastError).Scan(&id)
	return id, err
}

// DeleteQueueDlq removes a dead letter after it has been replayed.
func (q *Queries) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

// GetQueueDlq loads one dead letter.
func (q *Queries) GetQueueDlq(ctx context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	rows, err := q.db.Query(ctx, `SELECT `+deadLetterColumns+` FROM queue_dlq WHERE id = $1`, id)
	if err != nil {
		return queue.DLQEntry{}, err
	}
	entry, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[queue.DLQEntry])
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.DLQEntry{}, queue.ErrDLQNotFound
	}
	return entry, err
}

// ListQueueDlq pages through dead letters, newest first.
func (q *Queries) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	limit = min(max(limit, 1), 500)
	rows, err := q.db.Query(ctx, `SELECT `+deadLetterColumns+` FROM queue_dlq
WHERE ($1 = '' OR kind = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, strings.TrimSpace(kind), limit, max(offset, 0))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[queue.DLQEntry])
}

// CountQueueDlq counts dead letters of kind.
func (q *Queries) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE ($1 = '' OR kind = $1)`, strings.TrimSpace(kind)).Scan(&total)
	return total, err
}
