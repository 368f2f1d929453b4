package plan

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
	if err := initPlanSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPlanSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL,
			requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
			action_hash TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			scheduled_for TIMESTAMPTZ NOT NULL,
			skip_until TIMESTAMPTZ NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			executed_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_user_created ON plans (user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_status ON plans (status);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_user_hash ON plans (user_id, action_hash);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init plan schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const planColumns = `id, user_id, kind, source, payload, status, requires_approval, action_hash,
       confidence, scheduled_for, skip_until, result, error, created_at, updated_at, executed_at`

func (s *PostgresStore) Save(ctx context.Context, p Plan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plans (
			id, user_id, kind, source, payload, status, requires_approval, action_hash,
			confidence, scheduled_for, skip_until, result, error, created_at, updated_at, executed_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
		)
		ON CONFLICT (id) DO UPDATE SET
			payload=EXCLUDED.payload,
			status=EXCLUDED.status,
			requires_approval=EXCLUDED.requires_approval,
			confidence=EXCLUDED.confidence,
			scheduled_for=EXCLUDED.scheduled_for,
			skip_until=EXCLUDED.skip_until,
			result=EXCLUDED.result,
			error=EXCLUDED.error,
			updated_at=EXCLUDED.updated_at,
			executed_at=EXCLUDED.executed_at`,
		p.ID,
		p.UserID,
		string(p.Kind),
		string(p.Source),
		[]byte(p.Payload),
		string(p.Status),
		p.RequiresApproval,
		p.ActionHash,
		p.Confidence,
		p.ScheduledFor,
		p.SkipUntil,
		p.Result,
		p.Error,
		p.CreatedAt,
		p.UpdatedAt,
		p.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, planID string) (Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id=$1`, planID)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, ErrPlanNotFound
		}
		return Plan{}, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetByActionHash(ctx context.Context, userID, actionHash string) (Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans
		  WHERE user_id=$1 AND action_hash=$2
		  ORDER BY created_at DESC LIMIT 1`,
		userID, actionHash)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, ErrPlanNotFound
		}
		return Plan{}, fmt.Errorf("get plan by action hash: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Plan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+planColumns+` FROM plans WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()
	return collectPlans(rows)
}

func (s *PostgresStore) ListWaitingApproval(ctx context.Context, limit int) ([]Plan, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+planColumns+` FROM plans WHERE status=$1 ORDER BY created_at ASC LIMIT $2`,
		string(StatusWaitingApproval), limit)
	if err != nil {
		return nil, fmt.Errorf("list waiting plans: %w", err)
	}
	defer rows.Close()
	return collectPlans(rows)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, planID string, from, to Status, result, errMsg string, now time.Time) (Plan, error) {
	var executedAt *time.Time
	if to == StatusExecuted {
		t := now
		executedAt = &t
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE plans
		    SET status=$3,
		        result=CASE WHEN $4 <> '' THEN $4 ELSE result END,
		        error=CASE WHEN $5 <> '' THEN $5 ELSE error END,
		        updated_at=$6,
		        executed_at=COALESCE($7, executed_at)
		  WHERE id=$1 AND status=$2
		  RETURNING `+planColumns,
		planID, string(from), string(to), result, errMsg, now, executedAt)
	p, err := scanPlan(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, fmt.Errorf("update plan status: %w", err)
	}
	// The conditional update matched nothing: distinguish a missing plan
	// from one in the wrong state.
	if _, getErr := s.Get(ctx, planID); getErr != nil {
		return Plan{}, getErr
	}
	return Plan{}, ErrInvalidState
}

func (s *PostgresStore) SetSkipUntil(ctx context.Context, planID string, until time.Time, now time.Time) (Plan, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE plans SET skip_until=$2, updated_at=$3 WHERE id=$1 RETURNING `+planColumns,
		planID, until, now)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, ErrPlanNotFound
		}
		return Plan{}, fmt.Errorf("set skip_until: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) SetPayload(ctx context.Context, planID string, payload json.RawMessage, actionHash string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET payload=$2, action_hash=$3, updated_at=$4 WHERE id=$1`,
		planID, []byte(payload), actionHash, now)
	if err != nil {
		return fmt.Errorf("set payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectPlans(rows pgx.Rows) ([]Plan, error) {
	out := make([]Plan, 0, 16)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan rows: %w", err)
	}
	return out, nil
}

func scanPlan(row pgx.Row) (Plan, error) {
	var (
		p       Plan
		kind    string
		source  string
		status  string
		payload []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&kind,
		&source,
		&payload,
		&status,
		&p.RequiresApproval,
		&p.ActionHash,
		&p.Confidence,
		&p.ScheduledFor,
		&p.SkipUntil,
		&p.Result,
		&p.Error,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ExecutedAt,
	); err != nil {
		return Plan{}, err
	}
	p.Kind = intent.Kind(kind)
	p.Source = intent.Source(source)
	p.Status = Status(status)
	p.Payload = json.RawMessage(payload)
	return p, nil
}
