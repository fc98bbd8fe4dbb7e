package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/backend/internal/entitlement"
	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
)

// setupTestDB connects to DATABASE_URL, resets the schema and applies
// the DDL. Tests skip when the variable is not set.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL tests")
	}

	s, err := NewStore(databaseURL)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	ctx := context.Background()
	_, err = s.pool.Exec(ctx, `
		drop schema public cascade;
		create schema public;
	`)
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func seedUserAndTask(t *testing.T, s *Store) (model.User, model.Task) {
	t.Helper()
	ctx := context.Background()

	u, err := s.UpsertUser(ctx, model.User{ID: "U1", Name: "Taro"})
	require.NoError(t, err)

	task, err := s.CreateTask(ctx, model.Task{
		OwnerID:       u.ID,
		Name:          "日次集計",
		ScriptKey:     "daily_report",
		ScheduleValue: "07:30",
		PCName:        "pc-01",
		Enabled:       true,
	})
	require.NoError(t, err)
	return u, task
}

func TestPostgresUserRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u, _ := seedUserAndTask(t, s)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Taro", got.Name)

	// Partial upsert keeps existing profile fields.
	_, err = s.UpsertUser(ctx, model.User{ID: u.ID, LastEvent: "message"})
	require.NoError(t, err)
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Taro", got.Name)
	assert.Equal(t, "message", got.LastEvent)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresTaskOwnerConstraint(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.CreateTask(context.Background(), model.Task{
		OwnerID:       "no-such-user",
		Name:          "x",
		ScheduleValue: "07:30",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresAdmissionConstraint(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u, task := seedUserAndTask(t, s)

	first, err := s.EnqueueRerun(ctx, store.EnqueueRerunRequest{TaskID: task.ID, OwnerID: u.ID, PCName: task.PCName})
	require.NoError(t, err)
	assert.Equal(t, model.RerunStatusQueued, first.Status)

	_, err = s.EnqueueRerun(ctx, store.EnqueueRerunRequest{TaskID: task.ID, OwnerID: u.ID})
	assert.ErrorIs(t, err, store.ErrConflict)

	// The constraint holds under concurrency: exactly one insert wins.
	_, err = s.CancelRerun(ctx, first.ID)
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.EnqueueRerun(ctx, store.EnqueueRerunRequest{TaskID: task.ID, OwnerID: u.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestPostgresRerunLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u, task := seedUserAndTask(t, s)

	r, err := s.EnqueueRerun(ctx, store.EnqueueRerunRequest{TaskID: task.ID, OwnerID: u.ID, PCName: task.PCName})
	require.NoError(t, err)

	// Wrong PC sees nothing.
	_, err = s.ClaimRerun(ctx, store.ClaimRerunRequest{PCName: "other-pc", LockedBy: "runner-1"})
	assert.ErrorIs(t, err, store.ErrNoQueuedRequests)

	claimed, err := s.ClaimRerun(ctx, store.ClaimRerunRequest{PCName: "pc-01", LockedBy: "runner-1"})
	require.NoError(t, err)
	assert.Equal(t, r.ID, claimed.ID)
	assert.Equal(t, model.RerunStatusRunning, claimed.Status)
	assert.Equal(t, "runner-1", claimed.LockedBy)

	// Running rows cannot be canceled or deleted.
	_, err = s.CancelRerun(ctx, r.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.ErrorIs(t, s.DeleteRerun(ctx, r.ID), store.ErrActiveRecord)

	// Another runner's lock does not complete it.
	_, err = s.CompleteRerun(ctx, store.CompleteRerunRequest{RequestID: r.ID, LockedBy: "runner-2"})
	assert.ErrorIs(t, err, store.ErrConflict)

	code := 0
	done, err := s.CompleteRerun(ctx, store.CompleteRerunRequest{
		RequestID: r.ID, LockedBy: "runner-1", ExitCode: &code, Stdout: "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RerunStatusDone, done.Status)
	require.NotNil(t, done.FinishedAt)

	_, err = s.CompleteRerun(ctx, store.CompleteRerunRequest{RequestID: r.ID, LockedBy: "runner-1"})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	assert.NoError(t, s.DeleteRerun(ctx, r.ID))
}

func TestPostgresListRerunsOrdering(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u, _ := seedUserAndTask(t, s)

	mk := func(name string) model.Task {
		task, err := s.CreateTask(ctx, model.Task{
			OwnerID: u.ID, Name: name, ScheduleValue: "07:30", PCName: "pc-01", Enabled: true,
		})
		require.NoError(t, err)
		return task
	}

	t1, t2, t3 := mk("a"), mk("b"), mk("c")

	done, err := s.EnqueueRerun(ctx, store.EnqueueRerunRequest{TaskID: t1.ID, OwnerID: u.ID})
	require.NoError(t, err)
	_, err = s.ClaimRerun(ctx, store.ClaimRerunRequest{LockedBy: "runner-1"})
	require.NoError(t, err)
	_, err = s.CompleteRerun(ctx, store.CompleteRerunRequest{RequestID: done.ID})
	require.NoError(t, err)

	running, err := s.EnqueueRerun(ctx, store.EnqueueRerunRequest{TaskID: t2.ID, OwnerID: u.ID})
	require.NoError(t, err)
	_, err = s.ClaimRerun(ctx, store.ClaimRerunRequest{LockedBy: "runner-1"})
	require.NoError(t, err)

	queued, err := s.EnqueueRerun(ctx, store.EnqueueRerunRequest{TaskID: t3.ID, OwnerID: u.ID})
	require.NoError(t, err)

	all, err := s.ListReruns(ctx, store.RerunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, running.ID, all[0].ID)
	assert.Equal(t, queued.ID, all[1].ID)
	assert.Equal(t, done.ID, all[2].ID)
}

func TestPostgresApplyCheckout(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, task := seedUserAndTask(t, s)

	paidAt := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)
	req := store.ApplyCheckoutRequest{
		EventID:       "evt_1",
		Payload:       []byte(`{"id":"evt_1"}`),
		TaskID:        task.ID,
		PlanMonths:    3,
		PaidAt:        paidAt,
		PaymentDate:   entitlement.CivilDate(paidAt),
		PaymentAmount: "12000 JPY",
	}

	got, err := s.ApplyCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.PlanTagPaid, got.PlanTag)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, time.April, got.ExpiresAt.In(entitlement.JST).Month())
	assert.Equal(t, 30, got.ExpiresAt.In(entitlement.JST).Day())

	// Same event replays into the ledger only.
	_, err = s.ApplyCheckout(ctx, req)
	assert.ErrorIs(t, err, store.ErrDuplicateEvent)

	// Unknown task: the tx still commits the ledger row.
	req.EventID = "evt_2"
	req.TaskID = "22222222-2222-2222-2222-222222222222"
	_, err = s.ApplyCheckout(ctx, req)
	assert.ErrorIs(t, err, store.ErrNotFound)

	inserted, err := s.RecordPaymentEvent(ctx, "evt_2", nil)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Malformed task IDs behave like missing tasks.
	req.EventID = "evt_3"
	req.TaskID = "not-a-uuid"
	_, err = s.ApplyCheckout(ctx, req)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresExpirePlans(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u, _ := seedUserAndTask(t, s)

	past := time.Now().Add(-24 * time.Hour)
	paid, err := s.CreateTask(ctx, model.Task{
		OwnerID: u.ID, Name: "old", ScheduleValue: "07:30",
		PlanTag: model.PlanTagPaid, ExpiresAt: &past,
	})
	require.NoError(t, err)

	n, err := s.ExpirePlans(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetTask(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanTagExpired, got.PlanTag)
}
