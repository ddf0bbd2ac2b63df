package tier

import (
	"errors"
	"fmt"
	"time"
)

// Tier is an account classification that fixes the incubation terms
// (conversion rate and lock duration) of every card created under it.
type Tier string

const (
	Bronze Tier = "Bronze"
	Silver Tier = "Silver"
	Gold   Tier = "Gold"
)

// ErrUnknownTier indicates a tier value outside the recognized ladder.
// Callers are expected to pass a valid tier; this error is a configuration
// fault, not a user-input one.
var ErrUnknownTier = errors.New("unknown tier")

// conversionRates maps a tier to its reward-token to settlement-token rate.
// Higher tiers get a lower multiplier but a much shorter lock.
var conversionRates = map[Tier]float64{
	Bronze: 0.0000301,
	Silver: 0.0000258,
	Gold:   0.0000215,
}

var lockDurations = map[Tier]time.Duration{
	Bronze: 360 * time.Hour,
	Silver: 168 * time.Hour,
	Gold:   72 * time.Hour,
}

// Valid reports whether t is one of the recognized tiers.
func (t Tier) Valid() bool {
	_, ok := conversionRates[t]
	return ok
}

// Rate returns the reward-to-settlement conversion rate for the tier.
func Rate(t Tier) (float64, error) {
	rate, ok := conversionRates[t]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, t)
	}
	return rate, nil
}

// LockDuration returns how long a card created under the tier incubates.
func LockDuration(t Tier) (time.Duration, error) {
	d, ok := lockDurations[t]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, t)
	}
	return d, nil
}

// Terms resolves the full incubation terms for a reward amount committed
// under the tier: the settlement worth paid out on claim and the lock
// duration the card must run.
func Terms(t Tier, rewardAmount float64) (settlementWorth float64, lock time.Duration, err error) {
	rate, err := Rate(t)
	if err != nil {
		return 0, 0, err
	}
	lock, err = LockDuration(t)
	if err != nil {
		return 0, 0, err
	}
	return rewardAmount * rate, lock, nil
}
