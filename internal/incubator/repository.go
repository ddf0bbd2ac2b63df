package incubator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nestfi/nestfi/internal/tier"
)

// ErrCardNotFound indicates no card exists for the given identifier.
var ErrCardNotFound = errors.New("card not found")

// Repository persists incubator cards.
type Repository interface {
	Create(ctx context.Context, card Card) error
	FindByID(ctx context.Context, id string) (Card, error)
	FindByUser(ctx context.Context, userID string) ([]Card, error)
	FindByUserAndStatus(ctx context.Context, userID string, status Status) ([]Card, error)
	// FindExpired returns active cards whose EndsAt is at or before now.
	FindExpired(ctx context.Context, now time.Time) ([]Card, error)
	Save(ctx context.Context, card Card) error
	Delete(ctx context.Context, id string) error
}

// PostgresRepository stores cards in PostgreSQL. Durations are persisted
// as milliseconds, matching the wire representation.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a card repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const cardColumns = `id, user_id, tier, reward_amount, settlement_worth,
    total_duration_ms, remaining_time_ms, started_at, ends_at, status, created_at`

// Create inserts a card record.
func (r *PostgresRepository) Create(ctx context.Context, card Card) error {
	cardID, err := uuid.Parse(card.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(card.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO incubator_cards (`+cardColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		cardID, userID, string(card.Tier), card.RewardAmount, card.SettlementWorth,
		card.TotalDuration.Milliseconds(), card.RemainingTime.Milliseconds(),
		utcOrNil(card.StartedAt), utcOrNil(card.EndsAt), string(card.Status), card.CreatedAt.UTC())
	return err
}

// FindByID fetches a card by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Card, error) {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return Card{}, ErrCardNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM incubator_cards WHERE id = $1`, cardID)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Card{}, ErrCardNotFound
		}
		return Card{}, err
	}
	return card, nil
}

// FindByUser lists all cards owned by the user.
func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]Card, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrCardNotFound
	}
	return r.query(ctx, `SELECT `+cardColumns+` FROM incubator_cards
        WHERE user_id = $1 ORDER BY created_at`, ownerID)
}

// FindByUserAndStatus lists the user's cards in the given status.
func (r *PostgresRepository) FindByUserAndStatus(ctx context.Context, userID string, status Status) ([]Card, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrCardNotFound
	}
	return r.query(ctx, `SELECT `+cardColumns+` FROM incubator_cards
        WHERE user_id = $1 AND status = $2 ORDER BY created_at`, ownerID, string(status))
}

// FindExpired lists active cards due for the expiry sweep.
func (r *PostgresRepository) FindExpired(ctx context.Context, now time.Time) ([]Card, error) {
	return r.query(ctx, `SELECT `+cardColumns+` FROM incubator_cards
        WHERE status = $1 AND ends_at <= $2`, string(StatusActive), now.UTC())
}

// Save persists lifecycle mutations.
func (r *PostgresRepository) Save(ctx context.Context, card Card) error {
	cardID, err := uuid.Parse(card.ID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE incubator_cards SET
        remaining_time_ms = $1, started_at = $2, ends_at = $3, status = $4
        WHERE id = $5`,
		card.RemainingTime.Milliseconds(), utcOrNil(card.StartedAt), utcOrNil(card.EndsAt),
		string(card.Status), cardID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// Delete removes a card record.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return ErrCardNotFound
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM incubator_cards WHERE id = $1`, cardID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]Card, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (Card, error) {
	var (
		card        Card
		idVal       uuid.UUID
		userID      uuid.UUID
		tierVal     string
		totalMs     int64
		remainingMs int64
		startedAt   *time.Time
		endsAt      *time.Time
		statusVal   string
		createdAt   time.Time
	)
	if err := row.Scan(&idVal, &userID, &tierVal, &card.RewardAmount, &card.SettlementWorth,
		&totalMs, &remainingMs, &startedAt, &endsAt, &statusVal, &createdAt); err != nil {
		return Card{}, err
	}
	card.ID = idVal.String()
	card.UserID = userID.String()
	card.Tier = tier.Tier(tierVal)
	card.TotalDuration = time.Duration(totalMs) * time.Millisecond
	card.RemainingTime = time.Duration(remainingMs) * time.Millisecond
	card.StartedAt = utcOrNil(startedAt)
	card.EndsAt = utcOrNil(endsAt)
	card.Status = Status(statusVal)
	card.CreatedAt = createdAt.UTC()
	return card, nil
}
