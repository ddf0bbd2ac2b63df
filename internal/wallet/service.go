package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service exposes wallet provisioning and reads. Balance mutations are the
// incubator engine's job and go through the repository directly.
type Service struct {
	repo Repository
}

// NewService builds a wallet service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Provision creates an empty wallet for a newly registered user.
func (s *Service) Provision(ctx context.Context, userID string) (Wallet, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return Wallet{}, err
	}

	now := time.Now().UTC()
	w := Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}

	return w, nil
}

// Get retrieves the wallet owned by the given user.
func (s *Service) Get(ctx context.Context, userID string) (Wallet, error) {
	return s.repo.FindByUser(ctx, userID)
}
