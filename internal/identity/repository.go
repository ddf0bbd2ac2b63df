package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nestfi/nestfi/internal/tier"
)

// ErrUserNotFound indicates no user exists for the given identifier.
var ErrUserNotFound = errors.New("user not found")

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	UpdateTier(ctx context.Context, id string, t tier.Tier) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed user repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, tier, created_at)
        VALUES ($1, $2, $3, $4)`, userID, user.Email, string(user.Tier), user.CreatedAt.UTC())
	return err
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, email, tier, created_at FROM users WHERE id = $1`, userID)
	var (
		idVal     uuid.UUID
		tierVal   string
		createdAt time.Time
		user      User
	)
	if err := row.Scan(&idVal, &user.Email, &tierVal, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.ID = idVal.String()
	user.Tier = tier.Tier(tierVal)
	user.CreatedAt = createdAt.UTC()
	return user, nil
}

// UpdateTier moves the user to a new tier on the upgrade ladder.
func (r *PostgresRepository) UpdateTier(ctx context.Context, id string, t tier.Tier) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrUserNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET tier = $1 WHERE id = $2`, string(t), userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
