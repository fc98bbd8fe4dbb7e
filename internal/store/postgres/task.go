package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
)

const taskColumns = `
	task_id::text, owner_id, name, script_key, schedule_value, pc_name,
	enabled, coalesce(notes, ''), plan_tag, expires_at, payment_date,
	coalesce(payment_amount, ''), created_at, updated_at`

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Name, &t.ScriptKey, &t.ScheduleValue, &t.PCName,
		&t.Enabled, &t.Notes, &t.PlanTag, &t.ExpiresAt, &t.PaymentDate,
		&t.PaymentAmount, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (s *Store) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if strings.TrimSpace(t.OwnerID) == "" {
		return model.Task{}, errors.New("owner_id_required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return model.Task{}, errors.New("name_required")
	}

	planTag := t.PlanTag
	if planTag == "" {
		planTag = model.PlanTagFree
	}
	pcName := t.PCName
	if pcName == "" {
		pcName = "default"
	}

	out, err := scanTask(s.pool.QueryRow(ctx, `
		insert into public.tasks (owner_id, name, script_key, schedule_value, pc_name, enabled, notes, plan_tag, expires_at)
		values ($1, $2, $3, $4, $5, $6, nullif($7, ''), $8, $9)
		returning `+taskColumns,
		t.OwnerID, t.Name, t.ScriptKey, t.ScheduleValue, pcName, t.Enabled, t.Notes, string(planTag), t.ExpiresAt))
	if err != nil {
		return model.Task{}, mapPgErr(err)
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `
		select `+taskColumns+`
		from public.tasks
		where task_id = $1::uuid
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]model.Task, error) {
	query := `
		select ` + taskColumns + `
		from public.tasks
	`
	var where []string
	args := []any{}

	if strings.TrimSpace(f.OwnerID) != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if f.EnabledOnly {
		where = append(where, "enabled")
	}
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	// Newest first: the name resolver picks the first normalized match,
	// so ties on typed names resolve to the most recently created task.
	query += " order by created_at desc"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, mapPgErr(err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) SetTaskEnabled(ctx context.Context, id string, enabled bool) (*model.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `
		update public.tasks
		set enabled = $2,
		    updated_at = now()
		where task_id = $1::uuid
		returning `+taskColumns, id, enabled))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}
	return &t, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	cmdTag, err := s.pool.Exec(ctx, `
		delete from public.tasks
		where task_id = $1::uuid
	`, id)
	if err != nil {
		return mapPgErr(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ExpirePlans(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		with d as (
		  update public.tasks
		  set plan_tag = 'expired',
		      updated_at = now()
		  where plan_tag = 'paid'
		    and expires_at is not null
		    and expires_at < $1
		  returning 1
		)
		select count(*) from d
	`, now).Scan(&n)
	if err != nil {
		return 0, mapPgErr(err)
	}
	return n, nil
}

func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	var c store.Counts
	err := s.pool.QueryRow(ctx, `
		select (select count(*) from public.users),
		       (select count(*) from public.tasks)
	`).Scan(&c.Users, &c.Tasks)
	if err != nil {
		return store.Counts{}, mapPgErr(err)
	}
	return c, nil
}
