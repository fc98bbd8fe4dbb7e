package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
)

const rerunColumns = `
	request_id::text, task_id::text, owner_id, pc_name,
	coalesce(requested_by, ''), status, requested_at,
	locked_at, coalesce(locked_by, ''), started_at, finished_at,
	exit_code, coalesce(stdout, ''), coalesce(stderr, '')`

func scanRerun(row pgx.Row) (model.RerunRequest, error) {
	var r model.RerunRequest
	err := row.Scan(
		&r.ID, &r.TaskID, &r.OwnerID, &r.PCName,
		&r.RequestedBy, &r.Status, &r.RequestedAt,
		&r.LockedAt, &r.LockedBy, &r.StartedAt, &r.FinishedAt,
		&r.ExitCode, &r.Stdout, &r.Stderr,
	)
	return r, err
}

// EnqueueRerun is a single conditional insert. The partial unique index
// uq_rerun_active_task rejects a second active row for the same task;
// that rejection surfaces as store.ErrConflict, which is the normal
// "already pending" signal, not a failure.
func (s *Store) EnqueueRerun(ctx context.Context, req store.EnqueueRerunRequest) (model.RerunRequest, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return model.RerunRequest{}, errors.New("task_id_required")
	}

	out, err := scanRerun(s.pool.QueryRow(ctx, `
		insert into public.task_rerun_queue (task_id, owner_id, pc_name, requested_by)
		values ($1::uuid, $2, $3, nullif($4, ''))
		returning `+rerunColumns,
		req.TaskID, req.OwnerID, req.PCName, req.RequestedBy))
	if err != nil {
		return model.RerunRequest{}, mapPgErr(err)
	}
	return out, nil
}

func (s *Store) GetRerun(ctx context.Context, id string) (*model.RerunRequest, error) {
	r, err := scanRerun(s.pool.QueryRow(ctx, `
		select `+rerunColumns+`
		from public.task_rerun_queue
		where request_id = $1::uuid
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}
	return &r, nil
}

func (s *Store) ListReruns(ctx context.Context, f store.RerunFilter) ([]model.RerunRequest, error) {
	query := `
		select ` + rerunColumns + `
		from public.task_rerun_queue
	`
	var where []string
	args := []any{}

	if f.Active {
		where = append(where, "status in ('queued', 'running')")
	} else if strings.TrimSpace(string(f.Status)) != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if strings.TrimSpace(f.PCName) != "" {
		args = append(args, f.PCName)
		where = append(where, fmt.Sprintf("pc_name = $%d", len(args)))
	}
	if strings.TrimSpace(f.OwnerID) != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	// Operators want "happening now" before "waiting" before history.
	query += `
		order by case status
		           when 'running' then 0
		           when 'queued' then 1
		           else 2
		         end,
		         requested_at desc
	`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var out []model.RerunRequest
	for rows.Next() {
		r, err := scanRerun(rows)
		if err != nil {
			return nil, mapPgErr(err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) CancelRerun(ctx context.Context, id string) (*model.RerunRequest, error) {
	r, err := scanRerun(s.pool.QueryRow(ctx, `
		update public.task_rerun_queue
		set status = 'canceled',
		    finished_at = now()
		where request_id = $1::uuid
		  and status = 'queued'
		returning `+rerunColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing row from a non-cancelable one.
			if _, errGet := s.GetRerun(ctx, id); errGet != nil {
				return nil, errGet
			}
			return nil, store.ErrInvalidTransition
		}
		return nil, mapPgErr(err)
	}
	return &r, nil
}

func (s *Store) DeleteRerun(ctx context.Context, id string) error {
	cmdTag, err := s.pool.Exec(ctx, `
		delete from public.task_rerun_queue
		where request_id = $1::uuid
		  and status in ('done', 'failed', 'canceled')
	`, id)
	if err != nil {
		return mapPgErr(err)
	}
	if cmdTag.RowsAffected() == 0 {
		if _, errGet := s.GetRerun(ctx, id); errGet != nil {
			return errGet
		}
		return store.ErrActiveRecord
	}
	return nil
}

// ClaimRerun hands the oldest queued request to a runner, stamping the
// lock columns in the same statement so concurrent runners never claim
// the same row.
func (s *Store) ClaimRerun(ctx context.Context, req store.ClaimRerunRequest) (*model.RerunRequest, error) {
	if strings.TrimSpace(req.LockedBy) == "" {
		return nil, errors.New("locked_by_required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		with next as (
		  select request_id
		  from public.task_rerun_queue
		  where status = 'queued'
	`
	args := []any{req.LockedBy}
	if strings.TrimSpace(req.PCName) != "" {
		args = append(args, req.PCName)
		query += fmt.Sprintf(" and pc_name = $%d", len(args))
	}
	query += `
		  order by requested_at asc
		  limit 1
		  for update skip locked
		)
		update public.task_rerun_queue q
		set status = 'running',
		    locked_at = now(),
		    locked_by = $1,
		    started_at = now()
		from next
		where q.request_id = next.request_id
		returning q.request_id::text, q.task_id::text, q.owner_id, q.pc_name,
		          coalesce(q.requested_by, ''), q.status, q.requested_at,
		          q.locked_at, coalesce(q.locked_by, ''), q.started_at, q.finished_at,
		          q.exit_code, coalesce(q.stdout, ''), coalesce(q.stderr, '')`

	r, err := scanRerun(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoQueuedRequests
		}
		return nil, mapPgErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgErr(err)
	}
	return &r, nil
}

func (s *Store) CompleteRerun(ctx context.Context, req store.CompleteRerunRequest) (*model.RerunRequest, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		return nil, errors.New("request_id_required")
	}

	status := "done"
	if req.Failed {
		status = "failed"
	}

	query := `
		update public.task_rerun_queue
		set status = $2,
		    finished_at = now(),
		    exit_code = $3,
		    stdout = nullif($4, ''),
		    stderr = nullif($5, '')
		where request_id = $1::uuid
		  and status = 'running'
	`
	args := []any{req.RequestID, status, req.ExitCode, req.Stdout, req.Stderr}
	if strings.TrimSpace(req.LockedBy) != "" {
		args = append(args, req.LockedBy)
		query += fmt.Sprintf(" and locked_by = $%d", len(args))
	}
	query += " returning " + rerunColumns

	r, err := scanRerun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, errGet := s.GetRerun(ctx, req.RequestID)
			if errGet != nil {
				return nil, errGet
			}
			if strings.TrimSpace(req.LockedBy) != "" && existing.LockedBy != req.LockedBy {
				return nil, store.ErrConflict
			}
			return nil, store.ErrInvalidTransition
		}
		return nil, mapPgErr(err)
	}
	return &r, nil
}
