package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initLedgerSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initLedgerSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS action_ledger (
			action_hash TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init ledger schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Reserve(ctx context.Context, hash string, now time.Time) (Record, bool, error) {
	// Insert-if-absent; the primary key makes concurrent reservations of
	// the same hash resolve to a single winner.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO action_ledger (action_hash, status, result, created_at, updated_at)
		 VALUES ($1, $2, '', $3, $3)
		 ON CONFLICT (action_hash) DO NOTHING`,
		hash, string(StatusPending), now)
	if err != nil {
		return Record{}, false, fmt.Errorf("reserve ledger record: %w", err)
	}
	rec, err := s.Get(ctx, hash)
	if err != nil {
		return Record{}, false, err
	}
	return rec, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkExecuted(ctx context.Context, hash, result string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE action_ledger SET status=$2, result=$3, updated_at=$4
		  WHERE action_hash=$1 AND status=$5`,
		hash, string(StatusExecuted), result, now, string(StatusPending))
	if err != nil {
		return fmt.Errorf("mark ledger executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		rec, getErr := s.Get(ctx, hash)
		if getErr != nil {
			return getErr
		}
		// Already executed: a replay, not an error.
		if rec.Status == StatusExecuted {
			return nil
		}
		return fmt.Errorf("mark ledger executed: record %q in status %q", hash, rec.Status)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, hash string) (Record, error) {
	var (
		rec    Record
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT action_hash, status, result, created_at, updated_at
		   FROM action_ledger WHERE action_hash=$1`, hash).
		Scan(&rec.ActionHash, &status, &rec.Result, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("get ledger record: %w", err)
	}
	rec.Status = Status(status)
	return rec, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
