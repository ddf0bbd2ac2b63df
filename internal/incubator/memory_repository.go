package incubator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Card
}

// NewMemoryRepository constructs an in-memory card repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Card)}
}

func (r *memoryRepository) Create(_ context.Context, card Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[card.ID]; exists {
		return errors.New("card exists")
	}
	r.storage[card.ID] = card
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.storage[id]
	if !ok {
		return Card{}, ErrCardNotFound
	}
	return card, nil
}

func (r *memoryRepository) FindByUser(_ context.Context, userID string) ([]Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(c Card) bool { return c.UserID == userID }), nil
}

func (r *memoryRepository) FindByUserAndStatus(_ context.Context, userID string, status Status) ([]Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(c Card) bool { return c.UserID == userID && c.Status == status }), nil
}

func (r *memoryRepository) FindExpired(_ context.Context, now time.Time) ([]Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(c Card) bool {
		return c.Status == StatusActive && c.EndsAt != nil && !c.EndsAt.After(now)
	}), nil
}

func (r *memoryRepository) Save(_ context.Context, card Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[card.ID]; !ok {
		return ErrCardNotFound
	}
	r.storage[card.ID] = card
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[id]; !ok {
		return ErrCardNotFound
	}
	delete(r.storage, id)
	return nil
}

// collect assumes the caller holds at least a read lock.
func (r *memoryRepository) collect(match func(Card) bool) []Card {
	var cards []Card
	for _, c := range r.storage {
		if match(c) {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.Before(cards[j].CreatedAt) })
	return cards
}
