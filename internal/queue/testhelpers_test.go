package queue_test

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/kopi-pos/internal/queue"
)

// memoryStore keeps dead letters newest first, like the Postgres listing.
type memoryStore struct {
	mu      sync.Mutex
	entries []queue.DLQEntry
}

func newMemoryStore() *memoryStore { return &memoryStore{} }

func (m *memoryStore) InsertQueueDlq(_ context.Context, entry queue.DLQEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries = slices.Insert(m.entries, 0, entry)
	return entry.ID, nil
}

func (m *memoryStore) DeleteQueueDlq(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = slices.DeleteFunc(m.entries, func(e queue.DLQEntry) bool { return e.ID == id })
	return nil
}

func (m *memoryStore) GetQueueDlq(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.entries, func(e queue.DLQEntry) bool { return e.ID == id })
	if i < 0 {
		return queue.DLQEntry{}, queue.ErrDLQNotFound
	}
	return m.entries[i], nil
}

func (m *memoryStore) ListQueueDlq(_ context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	matched := m.byKind(kind)
	if offset >= len(matched) {
		return []queue.DLQEntry{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memoryStore) CountQueueDlq(_ context.Context, kind string) (int64, error) {
	return int64(len(m.byKind(kind))), nil
}

func (m *memoryStore) byKind(kind string) []queue.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.DLQEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
