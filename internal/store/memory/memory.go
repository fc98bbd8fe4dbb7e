// Package memory holds an in-memory Store used for tests and local
// development. A single mutex makes every check-then-insert atomic,
// which stands in for the database constraints the postgres store
// relies on.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskline/backend/internal/entitlement"
	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
)

type Store struct {
	mu sync.Mutex

	users  map[string]model.User
	tasks  map[string]model.Task
	reruns map[string]model.RerunRequest
	events map[string]model.PaymentEvent
}

func NewStore() *Store {
	return &Store{
		users:  make(map[string]model.User),
		tasks:  make(map[string]model.Task),
		reruns: make(map[string]model.RerunRequest),
		events: make(map[string]model.PaymentEvent),
	}
}

func (s *Store) UpsertUser(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(u.ID) == "" {
		return model.User{}, store.ErrNotFound
	}

	now := time.Now().UTC()
	existing, ok := s.users[u.ID]
	if ok {
		if u.Name != "" {
			existing.Name = u.Name
		}
		if u.PictureURL != "" {
			existing.PictureURL = u.PictureURL
		}
		if u.StatusMessage != "" {
			existing.StatusMessage = u.StatusMessage
		}
		if u.LastEvent != "" {
			existing.LastEvent = u.LastEvent
		}
		existing.LastSeenAt = now
		s.users[u.ID] = existing
		return existing, nil
	}

	u.LastSeenAt = now
	u.CreatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context, limit int) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateTask(_ context.Context, t model.Task) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(t.OwnerID) == "" {
		return model.Task{}, errWithCode("owner_id_required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return model.Task{}, errWithCode("name_required")
	}
	if _, ok := s.users[t.OwnerID]; !ok {
		return model.Task{}, store.ErrNotFound
	}

	now := time.Now().UTC()
	t.ID = uuid.NewString()
	if t.PlanTag == "" {
		t.PlanTag = model.PlanTagFree
	}
	if t.PCName == "" {
		t.PCName = "default"
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ListTasks(_ context.Context, f store.TaskFilter) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.OwnerID != "" && t.OwnerID != f.OwnerID {
			continue
		}
		if f.EnabledOnly && !t.Enabled {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) SetTaskEnabled(_ context.Context, id string, enabled bool) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	t.Enabled = enabled
	t.UpdatedAt = time.Now().UTC()
	s.tasks[id] = t
	return &t, nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tasks, id)
	for rid, r := range s.reruns {
		if r.TaskID == id {
			delete(s.reruns, rid)
		}
	}
	return nil
}

func (s *Store) ExpirePlans(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.tasks {
		if t.PlanTag == model.PlanTagPaid && t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			t.PlanTag = model.PlanTagExpired
			t.UpdatedAt = now.UTC()
			s.tasks[id] = t
			n++
		}
	}
	return n, nil
}

func (s *Store) EnqueueRerun(_ context.Context, req store.EnqueueRerunRequest) (model.RerunRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(req.TaskID) == "" {
		return model.RerunRequest{}, errWithCode("task_id_required")
	}
	if _, ok := s.tasks[req.TaskID]; !ok {
		return model.RerunRequest{}, store.ErrNotFound
	}

	// Under the lock this check plus the insert below is atomic, the
	// same guarantee the partial unique index gives postgres.
	for _, r := range s.reruns {
		if r.TaskID == req.TaskID && r.Status.Active() {
			return model.RerunRequest{}, store.ErrConflict
		}
	}

	r := model.RerunRequest{
		ID:          uuid.NewString(),
		TaskID:      req.TaskID,
		OwnerID:     req.OwnerID,
		PCName:      req.PCName,
		RequestedBy: req.RequestedBy,
		Status:      model.RerunStatusQueued,
		RequestedAt: time.Now().UTC(),
	}
	s.reruns[r.ID] = r
	return r, nil
}

func (s *Store) GetRerun(_ context.Context, id string) (*model.RerunRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reruns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func rerunOrder(st model.RerunStatus) int {
	switch st {
	case model.RerunStatusRunning:
		return 0
	case model.RerunStatusQueued:
		return 1
	default:
		return 2
	}
}

func (s *Store) ListReruns(_ context.Context, f store.RerunFilter) ([]model.RerunRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RerunRequest, 0, len(s.reruns))
	for _, r := range s.reruns {
		if f.Active && !r.Status.Active() {
			continue
		}
		if !f.Active && f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.PCName != "" && r.PCName != f.PCName {
			continue
		}
		if f.OwnerID != "" && r.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := rerunOrder(out[i].Status), rerunOrder(out[j].Status)
		if oi != oj {
			return oi < oj
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CancelRerun(_ context.Context, id string) (*model.RerunRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reruns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != model.RerunStatusQueued {
		return nil, store.ErrInvalidTransition
	}
	now := time.Now().UTC()
	r.Status = model.RerunStatusCanceled
	r.FinishedAt = &now
	s.reruns[id] = r
	return &r, nil
}

func (s *Store) DeleteRerun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reruns[id]
	if !ok {
		return store.ErrNotFound
	}
	if !r.Status.Terminal() {
		return store.ErrActiveRecord
	}
	delete(s.reruns, id)
	return nil
}

func (s *Store) ClaimRerun(_ context.Context, req store.ClaimRerunRequest) (*model.RerunRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *model.RerunRequest
	for id := range s.reruns {
		r := s.reruns[id]
		if r.Status != model.RerunStatusQueued {
			continue
		}
		if req.PCName != "" && r.PCName != req.PCName {
			continue
		}
		if oldest == nil || r.RequestedAt.Before(oldest.RequestedAt) {
			oldest = &r
		}
	}
	if oldest == nil {
		return nil, store.ErrNoQueuedRequests
	}

	now := time.Now().UTC()
	oldest.Status = model.RerunStatusRunning
	oldest.LockedAt = &now
	oldest.LockedBy = req.LockedBy
	oldest.StartedAt = &now
	s.reruns[oldest.ID] = *oldest
	return oldest, nil
}

func (s *Store) CompleteRerun(_ context.Context, req store.CompleteRerunRequest) (*model.RerunRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reruns[req.RequestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != model.RerunStatusRunning {
		return nil, store.ErrInvalidTransition
	}
	if req.LockedBy != "" && r.LockedBy != req.LockedBy {
		return nil, store.ErrConflict
	}

	now := time.Now().UTC()
	if req.Failed {
		r.Status = model.RerunStatusFailed
	} else {
		r.Status = model.RerunStatusDone
	}
	r.FinishedAt = &now
	r.ExitCode = req.ExitCode
	r.Stdout = req.Stdout
	r.Stderr = req.Stderr
	s.reruns[req.RequestID] = r
	return &r, nil
}

func (s *Store) RecordPaymentEvent(_ context.Context, eventID string, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordEventLocked(eventID, payload), nil
}

func (s *Store) recordEventLocked(eventID string, payload []byte) bool {
	if _, ok := s.events[eventID]; ok {
		return false
	}
	s.events[eventID] = model.PaymentEvent{
		EventID:    eventID,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: time.Now().UTC(),
	}
	return true
}

func (s *Store) ApplyCheckout(_ context.Context, req store.ApplyCheckoutRequest) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.EventID != "" && !s.recordEventLocked(req.EventID, req.Payload) {
		return nil, store.ErrDuplicateEvent
	}

	t, ok := s.tasks[req.TaskID]
	if !ok {
		// The event stays recorded so a retried delivery still
		// deduplicates.
		return nil, store.ErrNotFound
	}

	if req.PlanMonths > 0 {
		newExpiry := entitlement.Extend(t.ExpiresAt, req.PlanMonths, req.PaidAt)
		t.ExpiresAt = &newExpiry
		t.PlanTag = model.PlanTagPaid
	}
	pd := req.PaymentDate
	t.PaymentDate = &pd
	t.PaymentAmount = req.PaymentAmount
	t.UpdatedAt = time.Now().UTC()
	s.tasks[req.TaskID] = t
	return &t, nil
}

func (s *Store) Counts(_ context.Context) (store.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.Counts{Users: len(s.users), Tasks: len(s.tasks)}, nil
}

type codedError string

func (e codedError) Error() string { return string(e) }

func errWithCode(code string) error { return codedError(code) }
