package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conciergehq/concierge/internal/intent"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initQueueSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initQueueSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queue_items (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			action_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			scheduled_for TIMESTAMPTZ NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_due ON queue_items (status, scheduled_for);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_plan ON queue_items (plan_id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init queue schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const itemColumns = `id, plan_id, user_id, kind, payload, action_hash, status,
       scheduled_for, result, error, created_at, updated_at`

func (s *PostgresStore) Enqueue(ctx context.Context, item Item) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queue_items (
			id, plan_id, user_id, kind, payload, action_hash, status,
			scheduled_for, result, error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		item.ID,
		item.PlanID,
		item.UserID,
		string(item.Kind),
		[]byte(item.Payload),
		item.ActionHash,
		string(item.Status),
		item.ScheduledFor,
		item.Result,
		item.Error,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue item: %w", err)
	}
	return nil
}

func (s *PostgresStore) Claim(ctx context.Context, itemID string, now time.Time) (Item, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE queue_items SET status=$3, updated_at=$4
		  WHERE id=$1 AND status=$2
		  RETURNING `+itemColumns,
		itemID, string(StatusScheduled), string(StatusRunning), now)
	item, err := scanItem(row)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("claim item: %w", err)
	}
	if _, getErr := s.Get(ctx, itemID); getErr != nil {
		return Item{}, getErr
	}
	return Item{}, ErrAlreadyClaimed
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 25
	}
	// SKIP LOCKED keeps concurrent sweeps from fighting over the same
	// rows; the status condition makes the claim itself atomic.
	rows, err := s.pool.Query(ctx,
		`UPDATE queue_items SET status=$3, updated_at=$4
		  WHERE id IN (
			SELECT id FROM queue_items
			 WHERE status=$1 AND scheduled_for<=$2
			 ORDER BY scheduled_for ASC
			 LIMIT $5
			 FOR UPDATE SKIP LOCKED
		  )
		  RETURNING `+itemColumns,
		string(StatusScheduled), now, string(StatusRunning), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}
	defer rows.Close()

	out := make([]Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed items: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Finish(ctx context.Context, itemID string, status Status, result, errMsg string, now time.Time) (Item, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE queue_items SET status=$3, result=$4, error=$5, updated_at=$6
		  WHERE id=$1 AND status=$2
		  RETURNING `+itemColumns,
		itemID, string(StatusRunning), string(status), result, errMsg, now)
	item, err := scanItem(row)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("finish item: %w", err)
	}
	if _, getErr := s.Get(ctx, itemID); getErr != nil {
		return Item{}, getErr
	}
	return Item{}, ErrAlreadyClaimed
}

func (s *PostgresStore) Get(ctx context.Context, itemID string) (Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE id=$1`, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CountDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE status=$1 AND scheduled_for<=$2`,
		string(StatusScheduled), now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count due items: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		item    Item
		kind    string
		status  string
		payload []byte
	)
	if err := row.Scan(
		&item.ID,
		&item.PlanID,
		&item.UserID,
		&kind,
		&payload,
		&item.ActionHash,
		&status,
		&item.ScheduledFor,
		&item.Result,
		&item.Error,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Item{}, err
	}
	item.Kind = intent.Kind(kind)
	item.Status = Status(status)
	item.Payload = json.RawMessage(payload)
	return item, nil
}
