package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrWalletNotFound indicates no wallet exists for the given user.
var ErrWalletNotFound = errors.New("wallet not found")

// Repository persists wallets.
type Repository interface {
	Create(ctx context.Context, w Wallet) error
	FindByUser(ctx context.Context, userID string) (Wallet, error)
	Save(ctx context.Context, w Wallet) error
	// FindExpiredSessions returns wallets whose activation session is
	// still flagged active but whose expiry is at or before now.
	FindExpiredSessions(ctx context.Context, now time.Time) ([]Wallet, error)
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, w Wallet) error {
	walletID, err := uuid.Parse(w.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(w.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO wallets
        (id, user_id, reward_balance, settlement_balance, incubator_accrued,
         session_active, session_expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		walletID, userID, w.RewardBalance, w.SettlementBalance, w.IncubatorAccrued,
		w.Session.Active, expiresAt(w.Session), w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return err
}

// FindByUser fetches the wallet owned by the given user.
func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) (Wallet, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, user_id, reward_balance, settlement_balance,
        incubator_accrued, session_active, session_expires_at, created_at, updated_at
        FROM wallets WHERE user_id = $1`, ownerID)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

// Save persists balance and session mutations.
func (r *PostgresRepository) Save(ctx context.Context, w Wallet) error {
	walletID, err := uuid.Parse(w.ID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE wallets SET
        reward_balance = $1, settlement_balance = $2, incubator_accrued = $3,
        session_active = $4, session_expires_at = $5, updated_at = $6
        WHERE id = $7`,
		w.RewardBalance, w.SettlementBalance, w.IncubatorAccrued,
		w.Session.Active, expiresAt(w.Session), time.Now().UTC(), walletID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// FindExpiredSessions lists wallets due for the session-expiry sweep.
func (r *PostgresRepository) FindExpiredSessions(ctx context.Context, now time.Time) ([]Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT id, user_id, reward_balance, settlement_balance,
        incubator_accrued, session_active, session_expires_at, created_at, updated_at
        FROM wallets WHERE session_active = TRUE AND session_expires_at <= $1`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func expiresAt(s Session) *time.Time {
	if s.ExpiresAt == nil {
		return nil
	}
	t := s.ExpiresAt.UTC()
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var (
		w         Wallet
		idVal     uuid.UUID
		userID    uuid.UUID
		expires   *time.Time
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&idVal, &userID, &w.RewardBalance, &w.SettlementBalance,
		&w.IncubatorAccrued, &w.Session.Active, &expires, &createdAt, &updatedAt); err != nil {
		return Wallet{}, err
	}
	w.ID = idVal.String()
	w.UserID = userID.String()
	if expires != nil {
		t := expires.UTC()
		w.Session.ExpiresAt = &t
	}
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}
