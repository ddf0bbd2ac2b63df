package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nestfi/nestfi/internal/tier"
)

// Service manages user accounts and answers tier lookups for the
// incubator engine.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a new Bronze-tier user. Referral bookkeeping that later
// promotes the user happens elsewhere; every account starts at the bottom
// of the ladder.
func (s *Service) Register(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, errors.New("a valid email is required")
	}

	user := User{
		ID:        uuid.New().String(),
		Email:     email,
		Tier:      tier.Bronze,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Get retrieves a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// Tier returns the user's current account tier.
func (s *Service) Tier(ctx context.Context, userID string) (tier.Tier, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Tier, nil
}

// UpgradeTier moves the user to the given tier. The target must be a
// recognized tier; the referral conditions that earn the upgrade are
// validated by the caller.
func (s *Service) UpgradeTier(ctx context.Context, userID string, target tier.Tier) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", tier.ErrUnknownTier, target)
	}
	return s.repo.UpdateTier(ctx, userID, target)
}
