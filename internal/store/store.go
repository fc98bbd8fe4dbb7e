package store

import (
	"context"
	"errors"
	"time"

	"taskline/backend/internal/model"
)

var (
	ErrNotFound          = errors.New("not_found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrActiveRecord      = errors.New("active_record_protected")
	ErrDuplicateEvent    = errors.New("duplicate_event")
	ErrNoQueuedRequests  = errors.New("no_queued_requests")
)

type TaskFilter struct {
	OwnerID     string
	EnabledOnly bool
	Limit       int
}

// RerunFilter selects queue entries. Active wins over Status when both
// are set. Results are ordered running, then queued, then terminal,
// newest requested_at first within each group.
type RerunFilter struct {
	Active  bool
	Status  model.RerunStatus
	PCName  string
	OwnerID string
	Limit   int
}

type EnqueueRerunRequest struct {
	TaskID      string `json:"task_id"`
	OwnerID     string `json:"owner_id"`
	PCName      string `json:"pc_name"`
	RequestedBy string `json:"requested_by,omitempty"`
}

type ClaimRerunRequest struct {
	PCName   string `json:"pc_name"`
	LockedBy string `json:"locked_by"`
}

type CompleteRerunRequest struct {
	RequestID string `json:"request_id"`
	LockedBy  string `json:"locked_by,omitempty"`
	Failed    bool   `json:"failed"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
}

// ApplyCheckoutRequest carries one verified checkout-completed event.
// The ledger insert and the task entitlement update run in a single
// storage transaction; a duplicate event id aborts before any task
// mutation and surfaces ErrDuplicateEvent.
type ApplyCheckoutRequest struct {
	EventID       string
	Payload       []byte
	TaskID        string
	PlanMonths    int // 0 means record the payment without extending expiry
	PaidAt        time.Time
	PaymentDate   time.Time // civil date in JST
	PaymentAmount string
}

type Counts struct {
	Users int `json:"users"`
	Tasks int `json:"tasks"`
}

type Store interface {
	UpsertUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, limit int) ([]model.User, error)

	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]model.Task, error)
	SetTaskEnabled(ctx context.Context, id string, enabled bool) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ExpirePlans(ctx context.Context, now time.Time) (int, error)

	EnqueueRerun(ctx context.Context, req EnqueueRerunRequest) (model.RerunRequest, error)
	GetRerun(ctx context.Context, id string) (*model.RerunRequest, error)
	ListReruns(ctx context.Context, f RerunFilter) ([]model.RerunRequest, error)
	CancelRerun(ctx context.Context, id string) (*model.RerunRequest, error)
	DeleteRerun(ctx context.Context, id string) error
	ClaimRerun(ctx context.Context, req ClaimRerunRequest) (*model.RerunRequest, error)
	CompleteRerun(ctx context.Context, req CompleteRerunRequest) (*model.RerunRequest, error)

	RecordPaymentEvent(ctx context.Context, eventID string, payload []byte) (bool, error)
	ApplyCheckout(ctx context.Context, req ApplyCheckoutRequest) (*model.Task, error)

	Counts(ctx context.Context) (Counts, error)
}
