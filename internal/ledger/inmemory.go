package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemory creates a concurrency-safe in-memory journal useful for unit tests.
func NewInMemory() Journal {
	return &inMemoryJournal{}
}

func (j *inMemoryJournal) Record(_ context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	j.entries = append(j.entries, entry)
	return nil
}

func (j *inMemoryJournal) ListByUser(_ context.Context, userID string) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Entry
	for _, e := range j.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}
