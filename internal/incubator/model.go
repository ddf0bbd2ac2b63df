package incubator

import (
	"time"

	"github.com/nestfi/nestfi/internal/tier"
)

// Status is the card lifecycle state. Cards move
// locked -> active -> claimable -> claimed, with the reverse edge
// active -> locked when the owner's session expires. Claiming is only
// possible from claimable; the card sweep is the sole producer of that
// state.
type Status string

const (
	StatusLocked    Status = "locked"
	StatusActive    Status = "active"
	StatusClaimable Status = "claimable"
	StatusClaimed   Status = "claimed"
)

// Card is a time-locked commitment of reward tokens. Tier, amounts and
// total duration are frozen at creation: tier upgrades after the fact do
// not change the terms of an existing card.
type Card struct {
	ID     string
	UserID string

	Tier            tier.Tier
	RewardAmount    float64
	SettlementWorth float64

	// TotalDuration is the full lock period. RemainingTime is
	// authoritative only while the card is locked; for an active card it
	// is a projection from EndsAt (see Projected).
	TotalDuration time.Duration
	RemainingTime time.Duration

	StartedAt *time.Time
	EndsAt    *time.Time

	Status    Status
	CreatedAt time.Time
}

// Projected returns a copy of the card with RemainingTime recomputed from
// the running clock. Stored remaining time goes stale while the card is
// active, so reads must never trust it directly.
func (c Card) Projected(now time.Time) Card {
	if c.Status == StatusActive && c.EndsAt != nil {
		remaining := c.EndsAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		c.RemainingTime = remaining
	}
	return c
}
