package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJournal persists postings in PostgreSQL.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal implementation.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Record inserts a posting entry.
func (j *PostgresJournal) Record(ctx context.Context, entry Entry) error {
	entryID := uuid.New()
	if entry.ID != "" {
		parsed, err := uuid.Parse(entry.ID)
		if err != nil {
			return err
		}
		entryID = parsed
	}
	userID, err := uuid.Parse(entry.UserID)
	if err != nil {
		return err
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = j.db.Exec(ctx, `INSERT INTO postings (id, user_id, kind, token, amount, reference, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entryID, userID, entry.Kind, entry.Token, entry.Amount, entry.Reference, createdAt.UTC())
	return err
}

// ListByUser returns all postings for the user, oldest first.
func (j *PostgresJournal) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	rows, err := j.db.Query(ctx, `SELECT id, user_id, kind, token, amount, reference, created_at
        FROM postings WHERE user_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			idVal     uuid.UUID
			ownerVal  uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&idVal, &ownerVal, &e.Kind, &e.Token, &e.Amount, &e.Reference, &createdAt); err != nil {
			return nil, err
		}
		e.ID = idVal.String()
		e.UserID = ownerVal.String()
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
