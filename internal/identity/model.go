package identity

import (
	"time"

	"github.com/nestfi/nestfi/internal/tier"
)

// User represents a registered platform account. The tier drives the
// incubation terms of every card the user creates; authentication happens
// upstream and is not modeled here.
type User struct {
	ID        string
	Email     string
	Tier      tier.Tier
	CreatedAt time.Time
}
