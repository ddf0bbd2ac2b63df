package wallet

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Wallet // keyed by user id; one wallet per user
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Wallet)}
}

func (r *memoryRepository) Create(_ context.Context, w Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[w.UserID]; exists {
		return errors.New("wallet exists")
	}
	r.storage[w.UserID] = w
	return nil
}

func (r *memoryRepository) FindByUser(_ context.Context, userID string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.storage[userID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (r *memoryRepository) Save(_ context.Context, w Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[w.UserID]; !ok {
		return ErrWalletNotFound
	}
	w.UpdatedAt = time.Now().UTC()
	r.storage[w.UserID] = w
	return nil
}

func (r *memoryRepository) FindExpiredSessions(_ context.Context, now time.Time) ([]Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var expired []Wallet
	for _, w := range r.storage {
		if w.Session.Active && w.Session.ExpiresAt != nil && !w.Session.ExpiresAt.After(now) {
			expired = append(expired, w)
		}
	}
	return expired, nil
}
