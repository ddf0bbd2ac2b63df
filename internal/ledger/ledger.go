package ledger

import (
	"context"
	"time"
)

const (
	// KindIncubatorAccrual records reward tokens committed to a new card.
	KindIncubatorAccrual = "incubator_accrual"
	// KindClaimSettlement records the settlement-token yield paid on claim.
	KindClaimSettlement = "claim_settlement"
	// KindClaimReward records the reward principal returned on claim.
	KindClaimReward = "claim_reward"

	// TokenReward and TokenSettlement identify which balance an entry touches.
	TokenReward     = "reward"
	TokenSettlement = "settlement"
)

// Entry is an immutable record of a balance-affecting posting. Entries
// outlive the incubator cards that produced them, which is the only audit
// trail left once a claimed card is deleted.
type Entry struct {
	ID        string
	UserID    string
	Kind      string
	Token     string
	Amount    float64
	Reference string // originating card id
	CreatedAt time.Time
}

// Journal defines the contract implemented by posting journals
// (e.g. Postgres).
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	ListByUser(ctx context.Context, userID string) ([]Entry, error)
}
