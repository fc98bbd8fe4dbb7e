package rerun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
	"taskline/backend/internal/store/memory"
)

func seedTask(t *testing.T, st *memory.Store, ownerID, name string, enabled bool) model.Task {
	t.Helper()
	ctx := context.Background()

	_, err := st.UpsertUser(ctx, model.User{ID: ownerID, Name: "tester"})
	require.NoError(t, err)

	task, err := st.CreateTask(ctx, model.Task{
		OwnerID:       ownerID,
		Name:          name,
		ScriptKey:     "commute_log",
		ScheduleValue: "07:30",
		PCName:        "pc-01",
		Enabled:       enabled,
	})
	require.NoError(t, err)
	return task
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "通勤バス 乗車記録", NormalizeName("通勤バス　乗車記録"))
	assert.Equal(t, "a b", NormalizeName("  a \t b  "))
	assert.Equal(t, "", NormalizeName("　 　"))
}

func TestEnqueue(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	task := seedTask(t, st, "U1", "通勤バス 乗車記録", true)

	// Full-width space in the typed name still matches.
	req, err := q.Enqueue(ctx, "U1", "通勤バス　乗車記録", "U1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, req.TaskID)
	assert.Equal(t, model.RerunStatusQueued, req.Status)
	assert.Equal(t, "pc-01", req.PCName)
}

func TestEnqueueUnknownName(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	seedTask(t, st, "U1", "通勤バス 乗車記録", true)

	_, err := q.Enqueue(ctx, "U1", "存在しない", "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = q.Enqueue(ctx, "U1", "   ", "U1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnqueueScopedToOwner(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	seedTask(t, st, "U1", "日次集計", true)
	_, err := st.UpsertUser(ctx, model.User{ID: "U2"})
	require.NoError(t, err)

	// Another user's task name resolves to nothing.
	_, err = q.Enqueue(ctx, "U2", "日次集計", "U2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnqueueDisabledTask(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)

	seedTask(t, st, "U1", "日次集計", false)

	_, err := q.Enqueue(context.Background(), "U1", "日次集計", "U1")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestEnqueueAlreadyPending(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	seedTask(t, st, "U1", "日次集計", true)

	_, err := q.Enqueue(ctx, "U1", "日次集計", "U1")
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "U1", "日次集計", "U1")
	assert.ErrorIs(t, err, ErrAlreadyPending)
}

func TestEnqueueAfterTerminalAllowed(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	seedTask(t, st, "U1", "日次集計", true)

	first, err := q.Enqueue(ctx, "U1", "日次集計", "U1")
	require.NoError(t, err)
	_, err = q.Cancel(ctx, first.ID)
	require.NoError(t, err)

	// A terminal row no longer blocks admission.
	_, err = q.Enqueue(ctx, "U1", "日次集計", "U1")
	assert.NoError(t, err)
}

func TestEnqueuePrefersNewestOnNameCollision(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	seedTask(t, st, "U1", "日次集計", true)
	time.Sleep(5 * time.Millisecond)
	newer := seedTask(t, st, "U1", "日次集計", true)

	req, err := q.Enqueue(ctx, "U1", "日次集計", "U1")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, req.TaskID)
}

func TestEnqueueConcurrentSingleWinner(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	seedTask(t, st, "U1", "日次集計", true)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, "U1", "日次集計", "U1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, pending int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyPending):
			pending++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, pending)

	active, err := st.ListReruns(ctx, store.RerunFilter{Active: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCancelOnlyFromQueued(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	seedTask(t, st, "U1", "日次集計", true)

	req, err := q.Enqueue(ctx, "U1", "日次集計", "U1")
	require.NoError(t, err)

	claimed, err := st.ClaimRerun(ctx, store.ClaimRerunRequest{LockedBy: "runner-1"})
	require.NoError(t, err)
	require.Equal(t, req.ID, claimed.ID)

	_, err = q.Cancel(ctx, req.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = q.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteOnlyTerminal(t *testing.T) {
	st := memory.NewStore()
	q := NewQueue(st)
	ctx := context.Background()

	seedTask(t, st, "U1", "日次集計", true)

	req, err := q.Enqueue(ctx, "U1", "日次集計", "U1")
	require.NoError(t, err)

	err = q.Delete(ctx, req.ID)
	assert.ErrorIs(t, err, ErrActiveRecord)

	_, err = q.Cancel(ctx, req.ID)
	require.NoError(t, err)

	assert.NoError(t, q.Delete(ctx, req.ID))
	assert.ErrorIs(t, q.Delete(ctx, req.ID), store.ErrNotFound)
}
