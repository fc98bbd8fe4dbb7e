package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskline/backend/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// Ping to fail fast.
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables and indexes this store needs. The
// partial unique index uq_rerun_active_task is the admission arbiter
// for the re-run queue: at most one queued/running row per task.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		create extension if not exists pgcrypto;

		create table if not exists public.users (
			user_id        text primary key,
			user_name      text,
			picture_url    text,
			status_message text,
			last_event     text,
			last_seen_at   timestamptz not null default now(),
			created_at     timestamptz not null default now()
		);

		create table if not exists public.tasks (
			task_id        uuid primary key default gen_random_uuid(),
			owner_id       text not null references public.users(user_id) on delete cascade,
			name           text not null,
			script_key     text not null default '',
			schedule_value text not null default '',
			pc_name        text not null default 'default',
			enabled        boolean not null default true,
			notes          text,
			plan_tag       text not null default 'free',
			expires_at     timestamptz null,
			payment_date   date null,
			payment_amount text null,
			created_at     timestamptz not null default now(),
			updated_at     timestamptz not null default now()
		);

		create index if not exists idx_tasks_owner_id on public.tasks(owner_id);
		create index if not exists idx_tasks_plan_tag on public.tasks(plan_tag);
		create index if not exists idx_tasks_pc_name  on public.tasks(pc_name);

		create table if not exists public.task_rerun_queue (
			request_id   uuid primary key default gen_random_uuid(),
			task_id      uuid not null references public.tasks(task_id) on delete cascade,
			owner_id     text not null,
			pc_name      text not null,
			requested_by text,
			status       text not null default 'queued',
			requested_at timestamptz not null default now(),
			locked_at    timestamptz,
			locked_by    text,
			started_at   timestamptz,
			finished_at  timestamptz,
			exit_code    int,
			stdout       text,
			stderr       text
		);

		create index if not exists idx_rerun_queue_pc_status
			on public.task_rerun_queue(pc_name, status, requested_at);
		create index if not exists idx_rerun_queue_task_id
			on public.task_rerun_queue(task_id);

		create unique index if not exists uq_rerun_active_task
			on public.task_rerun_queue(task_id)
			where status in ('queued', 'running');

		create table if not exists public.stripe_events (
			event_id    text primary key,
			payload     jsonb not null,
			received_at timestamptz not null default now()
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return store.ErrConflict
		case "23503":
			return store.ErrNotFound
		case "22P02": // bad uuid text in a cast
			return store.ErrNotFound
		default:
			return fmt.Errorf("db_error %s: %s", pgErr.Code, pgErr.Message)
		}
	}
	return err
}
