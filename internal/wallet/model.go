package wallet

import "time"

// Session is the wallet-level activation window. While it is live, the
// owner's locked incubator cards run their countdowns. Active with an
// ExpiresAt in the past is a valid transient state: expired but not yet
// swept.
type Session struct {
	Active    bool
	ExpiresAt *time.Time
}

// Live reports whether the session is active and has not yet expired.
func (s Session) Live(now time.Time) bool {
	return s.Active && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// Wallet holds a user's token balances. Balances are only credited by the
// incubator engine; debits belong to the exchange flows outside this
// service, so no negative-balance check is enforced here.
type Wallet struct {
	ID     string
	UserID string

	// RewardBalance and SettlementBalance are the two spendable token
	// balances. IncubatorAccrued is the running total ever committed to
	// cards and only grows.
	RewardBalance     float64
	SettlementBalance float64
	IncubatorAccrued  float64

	Session   Session
	CreatedAt time.Time
	UpdatedAt time.Time
}
