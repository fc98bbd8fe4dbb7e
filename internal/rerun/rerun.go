// Package rerun implements admission control for out-of-schedule task
// re-runs: at most one queued-or-running request may exist per task.
package rerun

import (
	"context"
	"errors"
	"strings"

	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
)

var (
	ErrNotFound          = errors.New("task_not_found")
	ErrDisabled          = errors.New("task_disabled")
	ErrAlreadyPending    = errors.New("already_pending")
	ErrInvalidTransition = store.ErrInvalidTransition
	ErrActiveRecord      = store.ErrActiveRecord
)

type Queue struct {
	store store.Store
}

func NewQueue(st store.Store) *Queue {
	return &Queue{store: st}
}

// NormalizeName prepares a human-typed task name for comparison:
// full-width spaces become regular spaces, whitespace runs collapse to
// one space, and the result is trimmed.
func NormalizeName(s string) string {
	s = strings.ReplaceAll(s, "　", " ")
	return strings.Join(strings.Fields(s), " ")
}

// Enqueue admits a re-run request for the owner's task matching
// typedName. The admission invariant is enforced by the storage layer's
// conditional insert, never by a prior read: a constraint rejection
// comes back as ErrAlreadyPending.
//
// When several task names normalize equal, the most recently created
// task wins.
func (q *Queue) Enqueue(ctx context.Context, ownerID, typedName, requestedBy string) (*model.RerunRequest, error) {
	want := NormalizeName(typedName)
	if want == "" {
		return nil, ErrNotFound
	}

	tasks, err := q.store.ListTasks(ctx, store.TaskFilter{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}

	var task *model.Task
	for i := range tasks {
		if NormalizeName(tasks[i].Name) == want {
			task = &tasks[i]
			break // tasks are ordered created_at desc, first match is newest
		}
	}
	if task == nil {
		return nil, ErrNotFound
	}
	if !task.Enabled {
		return nil, ErrDisabled
	}

	req, err := q.store.EnqueueRerun(ctx, store.EnqueueRerunRequest{
		TaskID:      task.ID,
		OwnerID:     ownerID,
		PCName:      task.PCName,
		RequestedBy: requestedBy,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyPending
		}
		return nil, err
	}
	return &req, nil
}

// Cancel transitions a queued request to canceled. Running requests
// cannot be canceled here: the external runner already holds them and
// no cancellation signal reaches it.
func (q *Queue) Cancel(ctx context.Context, requestID string) (*model.RerunRequest, error) {
	return q.store.CancelRerun(ctx, requestID)
}

// Delete removes a terminal record. Queued and running rows are
// protected.
func (q *Queue) Delete(ctx context.Context, requestID string) error {
	return q.store.DeleteRerun(ctx, requestID)
}

func (q *Queue) Get(ctx context.Context, requestID string) (*model.RerunRequest, error) {
	return q.store.GetRerun(ctx, requestID)
}

func (q *Queue) List(ctx context.Context, f store.RerunFilter) ([]model.RerunRequest, error) {
	return q.store.ListReruns(ctx, f)
}
