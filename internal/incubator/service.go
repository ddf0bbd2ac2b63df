package incubator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nestfi/nestfi/internal/ledger"
	"github.com/nestfi/nestfi/internal/notification"
	"github.com/nestfi/nestfi/internal/tier"
	"github.com/nestfi/nestfi/internal/wallet"
)

var (
	// ErrInvalidAmount occurs when a card is created with a non-positive
	// reward amount.
	ErrInvalidAmount = errors.New("reward amount must be positive")

	// ErrSessionActive indicates the activation session is already live and
	// cannot be activated again until it expires.
	ErrSessionActive = errors.New("incubator session already active")

	// ErrSessionInactive indicates there is no live session to deactivate.
	ErrSessionInactive = errors.New("incubator session not active")

	// ErrNotClaimable indicates the card exists but is not in the claimable
	// state. Locked and active cards must mature first; a claimed card is
	// already gone.
	ErrNotClaimable = errors.New("card not claimable")
)

// TierSource answers account-tier lookups. Implemented by the identity
// service.
type TierSource interface {
	Tier(ctx context.Context, userID string) (tier.Tier, error)
}

// Service is the incubator lifecycle engine. It owns every card and
// session transition; wallets and cards for a given user are only ever
// mutated under that user's lock, so concurrent calls cannot interleave a
// read-modify-write.
type Service struct {
	wallets       wallet.Repository
	cards         Repository
	tiers         TierSource
	journal       ledger.Journal
	notifier      notification.Notifier
	activationTTL time.Duration
	logger        *slog.Logger

	locks *userLocks
	now   func() time.Time
}

// NewService builds the engine. activationTTL is the length of the
// wallet-level activation window.
func NewService(wallets wallet.Repository, cards Repository, tiers TierSource, journal ledger.Journal, notifier notification.Notifier, activationTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		wallets:       wallets,
		cards:         cards,
		tiers:         tiers,
		journal:       journal,
		notifier:      notifier,
		activationTTL: activationTTL,
		logger:        logger,
		locks:         newUserLocks(),
		now:           time.Now,
	}
}

// CreateCard commits rewardAmount of the user's reward tokens into a new
// incubator card. The wallet's accrual counter grows unconditionally; the
// card starts its countdown immediately only if the user's session is
// live, otherwise it waits in locked.
func (s *Service) CreateCard(ctx context.Context, userID string, rewardAmount float64) (Card, error) {
	if rewardAmount <= 0 {
		return Card{}, ErrInvalidAmount
	}

	unlock := s.locks.acquire(userID)
	defer unlock()

	w, err := s.wallets.FindByUser(ctx, userID)
	if err != nil {
		return Card{}, err
	}
	userTier, err := s.tiers.Tier(ctx, userID)
	if err != nil {
		return Card{}, err
	}

	worth, lock, err := tier.Terms(userTier, rewardAmount)
	if err != nil {
		return Card{}, fmt.Errorf("resolve terms: %w", err)
	}

	now := s.now().UTC()

	w.IncubatorAccrued += rewardAmount
	if err := s.wallets.Save(ctx, w); err != nil {
		return Card{}, err
	}

	card := Card{
		ID:              uuid.New().String(),
		UserID:          userID,
		Tier:            userTier,
		RewardAmount:    rewardAmount,
		SettlementWorth: worth,
		TotalDuration:   lock,
		RemainingTime:   lock,
		Status:          StatusLocked,
		CreatedAt:       now,
	}
	if w.Session.Live(now) {
		endsAt := now.Add(lock)
		card.Status = StatusActive
		card.StartedAt = &now
		card.EndsAt = &endsAt
	}

	if err := s.cards.Create(ctx, card); err != nil {
		return Card{}, err
	}

	s.record(ctx, ledger.Entry{
		UserID:    userID,
		Kind:      ledger.KindIncubatorAccrual,
		Token:     ledger.TokenReward,
		Amount:    rewardAmount,
		Reference: card.ID,
	})

	return card, nil
}

// ActivateSession opens a fresh activation window for the user and resumes
// every locked card they own. Each card resumes with its own frozen
// remaining time; terms fixed at creation are honored even if the user's
// tier changed since.
func (s *Service) ActivateSession(ctx context.Context, userID string) (wallet.Session, error) {
	unlock := s.locks.acquire(userID)
	defer unlock()

	w, err := s.wallets.FindByUser(ctx, userID)
	if err != nil {
		return wallet.Session{}, err
	}

	now := s.now().UTC()
	if w.Session.Live(now) {
		return wallet.Session{}, ErrSessionActive
	}

	expiresAt := now.Add(s.activationTTL)
	w.Session = wallet.Session{Active: true, ExpiresAt: &expiresAt}
	if err := s.wallets.Save(ctx, w); err != nil {
		return wallet.Session{}, err
	}

	locked, err := s.cards.FindByUserAndStatus(ctx, userID, StatusLocked)
	if err != nil {
		return wallet.Session{}, err
	}
	for _, card := range locked {
		startedAt := now
		endsAt := now.Add(card.RemainingTime)
		card.Status = StatusActive
		card.StartedAt = &startedAt
		card.EndsAt = &endsAt
		if err := s.cards.Save(ctx, card); err != nil {
			s.logger.Error("resume card", "card_id", card.ID, "user_id", userID, "error", err)
		}
	}

	s.notify(ctx, notification.Message{
		Kind:        notification.KindSessionActivated,
		Destination: userID,
		Body:        fmt.Sprintf("Incubator session active until %s, %d cards resumed", expiresAt.Format(time.RFC3339), len(locked)),
	})

	return w.Session, nil
}

// DeactivateSession closes a live session early and pauses the user's
// running cards at their current residual time.
func (s *Service) DeactivateSession(ctx context.Context, userID string) error {
	unlock := s.locks.acquire(userID)
	defer unlock()

	w, err := s.wallets.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if !w.Session.Active {
		return ErrSessionInactive
	}

	now := s.now().UTC()
	w.Session = wallet.Session{}
	if err := s.wallets.Save(ctx, w); err != nil {
		return err
	}

	s.pauseCards(ctx, userID, now)
	return nil
}

// ClaimCard pays out a matured card: the settlement worth is credited as
// yield and the reward principal is returned, then the card record is
// removed. Retrying a successful claim finds no card and fails with not
// found, which makes the operation naturally idempotent.
func (s *Service) ClaimCard(ctx context.Context, userID, cardID string) (ClaimResult, error) {
	unlock := s.locks.acquire(userID)
	defer unlock()

	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		return ClaimResult{}, err
	}
	if card.UserID != userID {
		return ClaimResult{}, ErrCardNotFound
	}
	if card.Status != StatusClaimable {
		return ClaimResult{}, ErrNotClaimable
	}

	w, err := s.wallets.FindByUser(ctx, userID)
	if err != nil {
		return ClaimResult{}, err
	}

	w.SettlementBalance += card.SettlementWorth
	w.RewardBalance += card.RewardAmount
	if err := s.wallets.Save(ctx, w); err != nil {
		return ClaimResult{}, err
	}

	card.Status = StatusClaimed
	if err := s.cards.Save(ctx, card); err != nil {
		return ClaimResult{}, err
	}
	if err := s.cards.Delete(ctx, card.ID); err != nil {
		return ClaimResult{}, err
	}

	s.record(ctx, ledger.Entry{
		UserID:    userID,
		Kind:      ledger.KindClaimSettlement,
		Token:     ledger.TokenSettlement,
		Amount:    card.SettlementWorth,
		Reference: card.ID,
	})
	s.record(ctx, ledger.Entry{
		UserID:    userID,
		Kind:      ledger.KindClaimReward,
		Token:     ledger.TokenReward,
		Amount:    card.RewardAmount,
		Reference: card.ID,
	})

	s.notify(ctx, notification.Message{
		Kind:        notification.KindCardClaimed,
		Destination: userID,
		Body:        fmt.Sprintf("Card %s claimed: +%v settlement, +%v reward", card.ID, card.SettlementWorth, card.RewardAmount),
	})

	return ClaimResult{SettlementCredited: card.SettlementWorth, RewardCredited: card.RewardAmount}, nil
}

// ClaimResult reports the amounts credited to the wallet by a claim.
type ClaimResult struct {
	SettlementCredited float64
	RewardCredited     float64
}

// ListCards returns all of the user's cards with remaining time projected
// to the current clock.
func (s *Service) ListCards(ctx context.Context, userID string) ([]Card, error) {
	cards, err := s.cards.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range cards {
		cards[i] = cards[i].Projected(now)
	}
	return cards, nil
}

// GetCard returns a single card with remaining time projected.
func (s *Service) GetCard(ctx context.Context, cardID string) (Card, error) {
	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		return Card{}, err
	}
	return card.Projected(s.now().UTC()), nil
}

// StatusReport is the session view plus the user's projected cards.
type StatusReport struct {
	Session wallet.Session
	Cards   []Card
}

// SessionStatus reports the user's activation session and card portfolio.
func (s *Service) SessionStatus(ctx context.Context, userID string) (StatusReport, error) {
	w, err := s.wallets.FindByUser(ctx, userID)
	if err != nil {
		return StatusReport{}, err
	}
	cards, err := s.ListCards(ctx, userID)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Session: w.Session, Cards: cards}, nil
}

// SweepExpiredCards advances every matured active card to claimable. This
// is the only producer of the claimable state. Row-level failures are
// logged and skipped so one bad record cannot halt the batch; the returned
// count is the number of cards advanced.
func (s *Service) SweepExpiredCards(ctx context.Context) (int, error) {
	now := s.now().UTC()
	expired, err := s.cards.FindExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired cards: %w", err)
	}

	advanced := 0
	for _, stale := range expired {
		unlock := s.locks.acquire(stale.UserID)

		// Re-read under the lock: the card may have been paused or
		// claimed since the scan.
		card, err := s.cards.FindByID(ctx, stale.ID)
		if err != nil || card.Status != StatusActive || card.EndsAt == nil || card.EndsAt.After(now) {
			if err != nil && !errors.Is(err, ErrCardNotFound) {
				s.logger.Error("sweep reread card", "card_id", stale.ID, "error", err)
			}
			unlock()
			continue
		}

		card.Status = StatusClaimable
		card.RemainingTime = 0
		if err := s.cards.Save(ctx, card); err != nil {
			s.logger.Error("sweep card", "card_id", card.ID, "error", err)
			unlock()
			continue
		}
		advanced++
		unlock()
	}

	if advanced > 0 {
		s.logger.Info("card sweep completed", "matured", advanced)
	} else {
		s.logger.Debug("card sweep found nothing to do")
	}
	return advanced, nil
}

// SweepExpiredSessions closes every expired activation session and pauses
// its owner's running cards, freezing each at its residual time so a later
// re-activation resumes the countdown where it stopped.
func (s *Service) SweepExpiredSessions(ctx context.Context) (int, error) {
	now := s.now().UTC()
	expired, err := s.wallets.FindExpiredSessions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}

	closed := 0
	for _, stale := range expired {
		unlock := s.locks.acquire(stale.UserID)

		w, err := s.wallets.FindByUser(ctx, stale.UserID)
		if err != nil || !w.Session.Active || w.Session.ExpiresAt == nil || w.Session.ExpiresAt.After(now) {
			if err != nil {
				s.logger.Error("sweep reread wallet", "user_id", stale.UserID, "error", err)
			}
			unlock()
			continue
		}

		w.Session = wallet.Session{}
		if err := s.wallets.Save(ctx, w); err != nil {
			s.logger.Error("sweep session", "user_id", w.UserID, "error", err)
			unlock()
			continue
		}
		s.pauseCards(ctx, w.UserID, now)
		closed++
		unlock()
	}

	if closed > 0 {
		s.logger.Info("session sweep completed", "closed", closed)
	} else {
		s.logger.Debug("session sweep found nothing to do")
	}
	return closed, nil
}

// pauseCards freezes the user's active cards at their residual remaining
// time. Caller must hold the user's lock.
func (s *Service) pauseCards(ctx context.Context, userID string, now time.Time) {
	active, err := s.cards.FindByUserAndStatus(ctx, userID, StatusActive)
	if err != nil {
		s.logger.Error("find active cards", "user_id", userID, "error", err)
		return
	}
	for _, card := range active {
		remaining := time.Duration(0)
		if card.EndsAt != nil {
			remaining = card.EndsAt.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
		}
		card.RemainingTime = remaining
		card.Status = StatusLocked
		card.StartedAt = nil
		card.EndsAt = nil
		if err := s.cards.Save(ctx, card); err != nil {
			s.logger.Error("pause card", "card_id", card.ID, "user_id", userID, "error", err)
		}
	}
}

// record writes a journal posting. Journal failures never abort the
// mutation they describe.
func (s *Service) record(ctx context.Context, entry ledger.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Error("record posting", "user_id", entry.UserID, "kind", entry.Kind, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, message notification.Message) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, message)
}

// userLocks serializes all wallet and card mutations per user.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *userLocks) acquire(userID string) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
