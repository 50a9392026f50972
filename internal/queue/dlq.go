package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDLQNotFound is returned when a dead letter id does not exist.
var ErrDLQNotFound = errors.New("queue: dead letter not found")

// Store persists dead letters. An empty kind lists or counts every kind.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
}

// DLQEntry is a task that exhausted its attempts. Payload is the task payload
// as enqueued and must be valid JSON.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}
