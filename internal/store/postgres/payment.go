package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"taskline/backend/internal/entitlement"
	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
)

// RecordPaymentEvent is a single atomic conditional insert. A false
// return means the event id was already on file.
func (s *Store) RecordPaymentEvent(ctx context.Context, eventID string, payload []byte) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, errors.New("event_id_required")
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		insert into public.stripe_events (event_id, payload)
		values ($1, $2::jsonb)
		on conflict (event_id) do nothing
		returning event_id
	`, eventID, string(payload)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, mapPgErr(err)
	}
	return true, nil
}

// ApplyCheckout records the ledger row and updates the task entitlement
// in one transaction. A duplicate event id aborts before touching the
// task. A missing task still commits the ledger row so a retried
// delivery deduplicates instead of re-entering business logic.
func (s *Store) ApplyCheckout(ctx context.Context, req store.ApplyCheckoutRequest) (*model.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(req.EventID) != "" {
		payload := req.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		var id string
		err := tx.QueryRow(ctx, `
			insert into public.stripe_events (event_id, payload)
			values ($1, $2::jsonb)
			on conflict (event_id) do nothing
			returning event_id
		`, req.EventID, string(payload)).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, store.ErrDuplicateEvent
			}
			return nil, mapPgErr(err)
		}
	}

	t, err := scanTask(tx.QueryRow(ctx, `
		select `+taskColumns+`
		from public.tasks
		where task_id = $1::uuid
		for update
	`, req.TaskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if errCommit := tx.Commit(ctx); errCommit != nil {
				return nil, mapPgErr(errCommit)
			}
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}

	newExpiry := t.ExpiresAt
	planTag := t.PlanTag
	if req.PlanMonths > 0 {
		e := entitlement.Extend(t.ExpiresAt, req.PlanMonths, req.PaidAt)
		newExpiry = &e
		planTag = model.PlanTagPaid
	}

	out, err := scanTask(tx.QueryRow(ctx, `
		update public.tasks
		set payment_date = $2,
		    payment_amount = nullif($3, ''),
		    expires_at = $4,
		    plan_tag = $5,
		    updated_at = now()
		where task_id = $1::uuid
		returning `+taskColumns,
		req.TaskID, req.PaymentDate, req.PaymentAmount, newExpiry, string(planTag)))
	if err != nil {
		return nil, mapPgErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgErr(err)
	}
	return &out, nil
}
