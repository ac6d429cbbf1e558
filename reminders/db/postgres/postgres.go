package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/remindfi/remind-network/reminders/db"
)

// DB keeps verifications in Postgres, conditional updates are single guarded UPDATE statements.
type DB struct {
	pool *pgxpool.Pool
}

func NewDB(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	d := &DB{pool: pool}
	if err = d.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return d, nil
}

func (d *DB) initSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS verifications (
  id TEXT PRIMARY KEY,
  task_id BIGINT NOT NULL,
  claimant_account_id TEXT NOT NULL,
  claimant_address TEXT NOT NULL,
  target_handle TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  verified_at TIMESTAMPTZ,
  score DOUBLE PRECISION,
  estimated_reward TEXT,
  verified_by TEXT,
  matched_post_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_verifications_claimant_status ON verifications(claimant_account_id, status);
CREATE TABLE IF NOT EXISTS processed_events (
  event_id TEXT PRIMARY KEY,
  processed_at TIMESTAMPTZ NOT NULL
);
`)
	return err
}

func (d *DB) Close() {
	d.pool.Close()
}

func (d *DB) CreateVerification(ctx context.Context, v *db.Verification) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO verifications (id, task_id, claimant_account_id, claimant_address, target_handle, status, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, v.ID, int64(v.TaskID), v.ClaimantAccountID, v.ClaimantAddress, v.TargetHandle, string(v.Status), v.CreatedAt, v.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return db.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert verification: %w", err)
	}
	return nil
}

const selectColumns = `id, task_id, claimant_account_id, claimant_address, target_handle, status,
  created_at, expires_at, verified_at, score, estimated_reward, verified_by, matched_post_id`

func (d *DB) GetVerification(ctx context.Context, id string) (*db.Verification, error) {
	v, err := scanVerification(d.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM verifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return v, nil
}

func (d *DB) ListPendingByClaimant(ctx context.Context, accountID string) ([]*db.Verification, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+selectColumns+` FROM verifications
WHERE claimant_account_id = $1 AND status = $2 ORDER BY created_at`, accountID, string(db.VerificationStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending verifications: %w", err)
	}
	defer rows.Close()

	var res []*db.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (d *DB) ConditionalUpdate(ctx context.Context, id string, cond db.Condition, upd db.Update) (bool, error) {
	var score *float64
	var reward, by, post *string
	var verifiedAt *time.Time
	if upd.Status == db.VerificationStatusVerified {
		score, verifiedAt = upd.Score, upd.VerifiedAt
		reward, by, post = &upd.EstimatedReward, &upd.VerifiedBy, &upd.MatchedPostID
	}

	tag, err := d.pool.Exec(ctx, `
UPDATE verifications SET status = $3, verified_at = $4, score = $5, estimated_reward = $6, verified_by = $7, matched_post_id = $8
WHERE id = $1 AND status = $2
  AND (NOT $9 OR expires_at >= $11)
  AND (NOT $10 OR expires_at < $11)
`, id, string(cond.Status), string(upd.Status), verifiedAt, score, reward, by, post, cond.Live, cond.Lapsed, cond.Now)
	if err != nil {
		return false, fmt.Errorf("failed to update verification: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// distinguish a lost race from a missing record
	if _, err = d.GetVerification(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (d *DB) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	if err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`,
		eventID).Scan(&seen); err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return seen, nil
}

func (d *DB) MarkEventProcessed(ctx context.Context, eventID string, at time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `INSERT INTO processed_events (event_id, processed_at) VALUES ($1, $2)
ON CONFLICT (event_id) DO NOTHING`, eventID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanVerification(row pgx.Row) (*db.Verification, error) {
	var v db.Verification
	var taskID int64
	var status string
	var reward, by, post *string

	if err := row.Scan(&v.ID, &taskID, &v.ClaimantAccountID, &v.ClaimantAddress, &v.TargetHandle, &status,
		&v.CreatedAt, &v.ExpiresAt, &v.VerifiedAt, &v.Score, &reward, &by, &post); err != nil {
		return nil, err
	}

	v.TaskID = uint64(taskID)
	v.Status = db.VerificationStatus(status)
	if reward != nil {
		v.EstimatedReward = *reward
	}
	if by != nil {
		v.VerifiedBy = *by
	}
	if post != nil {
		v.MatchedPostID = *post
	}
	return &v, nil
}
