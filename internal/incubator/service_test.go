package incubator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nestfi/nestfi/internal/identity"
	"github.com/nestfi/nestfi/internal/ledger"
	"github.com/nestfi/nestfi/internal/logging"
	"github.com/nestfi/nestfi/internal/tier"
	"github.com/nestfi/nestfi/internal/wallet"
)

const activationTTL = 6 * time.Hour

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc     *Service
	wallets wallet.Repository
	cards   Repository
	ids     *identity.Service
	journal ledger.Journal
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		wallets: wallet.NewMemoryRepository(),
		cards:   NewMemoryRepository(),
		ids:     identity.NewService(identity.NewMemoryRepository()),
		journal: ledger.NewInMemory(),
		clock:   &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = NewService(f.wallets, f.cards, f.ids, f.journal, nil, activationTTL, logging.Discard())
	SetClock(f.svc, f.clock.Now)
	return f
}

func (f *fixture) newUser(t *testing.T, accountTier tier.Tier) string {
	t.Helper()
	ctx := context.Background()
	user, err := f.ids.Register(ctx, string(accountTier)+"@example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if accountTier != tier.Bronze {
		if err := f.ids.UpgradeTier(ctx, user.ID, accountTier); err != nil {
			t.Fatalf("upgrade tier: %v", err)
		}
	}
	if _, err := wallet.NewService(f.wallets).Provision(ctx, user.ID); err != nil {
		t.Fatalf("provision wallet: %v", err)
	}
	return user.ID
}

func (f *fixture) walletOf(t *testing.T, userID string) wallet.Wallet {
	t.Helper()
	w, err := f.wallets.FindByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w
}

func TestCreateCardWhileSessionInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)

	card, err := f.svc.CreateCard(ctx, userID, 1000)
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	if card.Status != StatusLocked {
		t.Fatalf("expected locked, got %s", card.Status)
	}
	if card.SettlementWorth != 1000*0.0000215 {
		t.Fatalf("expected worth %v, got %v", 1000*0.0000215, card.SettlementWorth)
	}
	if card.TotalDuration != 72*time.Hour || card.RemainingTime != 72*time.Hour {
		t.Fatalf("expected 72h lock, got total=%v remaining=%v", card.TotalDuration, card.RemainingTime)
	}
	if card.StartedAt != nil || card.EndsAt != nil {
		t.Fatalf("locked card must not be scheduled: %+v", card)
	}

	if got := f.walletOf(t, userID).IncubatorAccrued; got != 1000 {
		t.Fatalf("expected accrued 1000, got %v", got)
	}

	entries, err := f.journal.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != ledger.KindIncubatorAccrual || entries[0].Amount != 1000 {
		t.Fatalf("expected one accrual posting, got %+v", entries)
	}
}

func TestCreateCardWhileSessionLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	card, err := f.svc.CreateCard(ctx, userID, 500)
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if card.Status != StatusActive {
		t.Fatalf("expected active, got %s", card.Status)
	}
	wantEnd := f.clock.Now().Add(72 * time.Hour)
	if card.EndsAt == nil || !card.EndsAt.Equal(wantEnd) {
		t.Fatalf("expected endsAt %v, got %v", wantEnd, card.EndsAt)
	}
	if card.StartedAt == nil || !card.StartedAt.Equal(f.clock.Now()) {
		t.Fatalf("expected startedAt now, got %v", card.StartedAt)
	}
}

func TestCreateCardValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Bronze)

	if _, err := f.svc.CreateCard(ctx, userID, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.svc.CreateCard(ctx, userID, -3); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.svc.CreateCard(ctx, "c4e880c2-92a3-4a4a-a6ec-74bd5d297886", 10); !errors.Is(err, wallet.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestActivateTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Silver)

	session, err := f.svc.ActivateSession(ctx, userID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	wantExpiry := f.clock.Now().Add(activationTTL)
	if session.ExpiresAt == nil || !session.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, session.ExpiresAt)
	}

	if _, err := f.svc.ActivateSession(ctx, userID); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	// Once the window lapses, a fresh activation is allowed even before
	// the sweep clears the flag.
	f.clock.Advance(activationTTL + time.Minute)
	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("re-activate after expiry: %v", err)
	}
}

func TestActivationResumesAllLockedCards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Bronze)

	first, err := f.svc.CreateCard(ctx, userID, 100)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}

	// Tier upgrade between cards: the first card keeps its Bronze terms.
	if err := f.ids.UpgradeTier(ctx, userID, tier.Gold); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	second, err := f.svc.CreateCard(ctx, userID, 100)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	now := f.clock.Now()
	for _, tc := range []struct {
		id   string
		lock time.Duration
	}{
		{first.ID, 360 * time.Hour},
		{second.ID, 72 * time.Hour},
	} {
		card, err := f.cards.FindByID(ctx, tc.id)
		if err != nil {
			t.Fatalf("find card: %v", err)
		}
		if card.Status != StatusActive {
			t.Fatalf("card %s: expected active, got %s", tc.id, card.Status)
		}
		want := now.Add(tc.lock)
		if card.EndsAt == nil || !card.EndsAt.Equal(want) {
			t.Fatalf("card %s: expected endsAt %v, got %v", tc.id, want, card.EndsAt)
		}
	}
}

func TestActivationLeavesOtherStatesAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	card, err := f.svc.CreateCard(ctx, userID, 50)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clock.Advance(73 * time.Hour)
	if _, err := f.svc.SweepExpiredCards(ctx); err != nil {
		t.Fatalf("card sweep: %v", err)
	}
	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("re-activate: %v", err)
	}

	got, err := f.cards.FindByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != StatusClaimable {
		t.Fatalf("claimable card must not be resumed, got %s", got.Status)
	}
}

func TestSweepExpiredCards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	card, err := f.svc.CreateCard(ctx, userID, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Not yet matured: no-op.
	f.clock.Advance(time.Hour)
	if n, err := f.svc.SweepExpiredCards(ctx); err != nil || n != 0 {
		t.Fatalf("expected no-op sweep, got n=%d err=%v", n, err)
	}

	f.clock.Advance(72 * time.Hour)
	n, err := f.svc.SweepExpiredCards(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 matured card, got %d", n)
	}

	got, err := f.cards.FindByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != StatusClaimable || got.RemainingTime != 0 {
		t.Fatalf("expected claimable with zero remaining, got %+v", got)
	}

	// Re-running is idempotent.
	if n, err := f.svc.SweepExpiredCards(ctx); err != nil || n != 0 {
		t.Fatalf("expected idempotent sweep, got n=%d err=%v", n, err)
	}
}

func TestSessionExpiryPausesCardsAtResidualTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	card, err := f.svc.CreateCard(ctx, userID, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// 7h in: the 6h session has lapsed, the 72h card has 65h left.
	f.clock.Advance(7 * time.Hour)
	n, err := f.svc.SweepExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("session sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 closed session, got %d", n)
	}

	if f.walletOf(t, userID).Session.Active {
		t.Fatal("session must be cleared")
	}
	paused, err := f.cards.FindByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if paused.Status != StatusLocked {
		t.Fatalf("expected locked, got %s", paused.Status)
	}
	if paused.RemainingTime != 65*time.Hour {
		t.Fatalf("expected residual 65h, got %v", paused.RemainingTime)
	}
	if paused.StartedAt != nil || paused.EndsAt != nil {
		t.Fatalf("paused card must not keep a schedule: %+v", paused)
	}

	// Re-activation resumes with the residual, not the full duration.
	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	resumed, err := f.cards.FindByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want := f.clock.Now().Add(65 * time.Hour)
	if resumed.EndsAt == nil || !resumed.EndsAt.Equal(want) {
		t.Fatalf("expected resume endsAt %v, got %v", want, resumed.EndsAt)
	}
}

func TestDeactivateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)

	if err := f.svc.DeactivateSession(ctx, userID); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	card, err := f.svc.CreateCard(ctx, userID, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	if err := f.svc.DeactivateSession(ctx, userID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	paused, err := f.cards.FindByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if paused.Status != StatusLocked || paused.RemainingTime != 70*time.Hour {
		t.Fatalf("expected locked with 70h residual, got %+v", paused)
	}
}

func TestClaimCreditsAndDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	card, err := f.svc.CreateCard(ctx, userID, 1000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clock.Advance(73 * time.Hour)
	if _, err := f.svc.SweepExpiredCards(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	res, err := f.svc.ClaimCard(ctx, userID, card.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.SettlementCredited != card.SettlementWorth || res.RewardCredited != 1000 {
		t.Fatalf("unexpected claim result: %+v", res)
	}

	w := f.walletOf(t, userID)
	if w.SettlementBalance != card.SettlementWorth {
		t.Fatalf("expected settlement balance %v, got %v", card.SettlementWorth, w.SettlementBalance)
	}
	if w.RewardBalance != 1000 {
		t.Fatalf("expected reward balance 1000, got %v", w.RewardBalance)
	}

	if _, err := f.cards.FindByID(ctx, card.ID); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected card gone, got %v", err)
	}

	// A retried claim finds nothing and credits nothing.
	if _, err := f.svc.ClaimCard(ctx, userID, card.ID); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound on retry, got %v", err)
	}
	if again := f.walletOf(t, userID); again.RewardBalance != 1000 {
		t.Fatalf("retry must not credit twice, got %v", again.RewardBalance)
	}

	entries, err := f.journal.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected accrual + 2 claim postings, got %+v", entries)
	}
}

func TestClaimRejectsImmatureCards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)
	otherID := f.newUser(t, tier.Silver)

	locked, err := f.svc.CreateCard(ctx, userID, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.ClaimCard(ctx, userID, locked.ID); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("locked claim: expected ErrNotClaimable, got %v", err)
	}

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	active, err := f.svc.CreateCard(ctx, userID, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.ClaimCard(ctx, userID, active.ID); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("active claim: expected ErrNotClaimable, got %v", err)
	}

	// Another user cannot claim someone else's card, even a matured one.
	f.clock.Advance(73 * time.Hour)
	if _, err := f.svc.SweepExpiredCards(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, err := f.svc.ClaimCard(ctx, otherID, active.ID); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("foreign claim: expected ErrCardNotFound, got %v", err)
	}

	w := f.walletOf(t, userID)
	if w.RewardBalance != 0 || w.SettlementBalance != 0 {
		t.Fatalf("rejected claims must not credit: %+v", w)
	}
}

func TestRemainingTimeProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Gold)

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	card, err := f.svc.CreateCard(ctx, userID, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clock.Advance(10 * time.Hour)

	got, err := f.svc.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RemainingTime != 62*time.Hour {
		t.Fatalf("expected projected 62h, got %v", got.RemainingTime)
	}

	// The stored value stays frozen; only the read-side projects.
	stored, err := f.cards.FindByID(ctx, card.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.RemainingTime != 72*time.Hour {
		t.Fatalf("projection must not mutate storage, got %v", stored.RemainingTime)
	}

	cards, err := f.svc.ListCards(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cards) != 1 || cards[0].RemainingTime != 62*time.Hour {
		t.Fatalf("expected projected listing, got %+v", cards)
	}
}

func TestConcurrentCreatesSerializeAccrual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Silver)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := f.svc.CreateCard(ctx, userID, 10); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.walletOf(t, userID).IncubatorAccrued; got != workers*10 {
		t.Fatalf("expected accrued %d, got %v", workers*10, got)
	}
	cards, err := f.cards.FindByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cards) != workers {
		t.Fatalf("expected %d cards, got %d", workers, len(cards))
	}
}

func TestConcurrentActivationSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Bronze)

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.ActivateSession(ctx, userID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, rejections int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSessionActive):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || rejections != callers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d rejections=%d", wins, rejections)
	}
}

func TestEndToEndSilverScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.newUser(t, tier.Silver)

	if _, err := f.svc.ActivateSession(ctx, userID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	card, err := f.svc.CreateCard(ctx, userID, 1000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if card.SettlementWorth != 25.8 {
		t.Fatalf("expected worth 25.8, got %v", card.SettlementWorth)
	}
	wantEnd := f.clock.Now().Add(168 * time.Hour)
	if card.EndsAt == nil || !card.EndsAt.Equal(wantEnd) {
		t.Fatalf("expected endsAt %v, got %v", wantEnd, card.EndsAt)
	}

	f.clock.Advance(168*time.Hour + time.Minute)
	if n, err := f.svc.SweepExpiredCards(ctx); err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}

	res, err := f.svc.ClaimCard(ctx, userID, card.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.SettlementCredited != 25.8 || res.RewardCredited != 1000 {
		t.Fatalf("unexpected payout: %+v", res)
	}

	w := f.walletOf(t, userID)
	if w.SettlementBalance != 25.8 || w.RewardBalance != 1000 {
		t.Fatalf("unexpected balances: %+v", w)
	}
	if _, err := f.cards.FindByID(ctx, card.ID); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected card removed, got %v", err)
	}
}
