package model

import "time"

type PlanTag string

const (
	PlanTagFree    PlanTag = "free"
	PlanTagPaid    PlanTag = "paid"
	PlanTagExpired PlanTag = "expired"
)

type RerunStatus string

const (
	RerunStatusQueued   RerunStatus = "queued"
	RerunStatusRunning  RerunStatus = "running"
	RerunStatusDone     RerunStatus = "done"
	RerunStatusFailed   RerunStatus = "failed"
	RerunStatusCanceled RerunStatus = "canceled"
)

// Active reports whether the status occupies the per-task admission slot.
func (s RerunStatus) Active() bool {
	return s == RerunStatusQueued || s == RerunStatusRunning
}

// Terminal reports whether the status allows deletion of the record.
func (s RerunStatus) Terminal() bool {
	return s == RerunStatusDone || s == RerunStatusFailed || s == RerunStatusCanceled
}

// User is a LINE subject seen by the webhook. The user ID is assigned by
// the messaging provider, not by us.
type User struct {
	ID            string    `json:"user_id"`
	Name          string    `json:"user_name,omitempty"`
	PictureURL    string    `json:"picture_url,omitempty"`
	StatusMessage string    `json:"status_message,omitempty"`
	LastEvent     string    `json:"last_event,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Task is a scheduled automation job executed by an external runner on a
// named machine. Entitlement fields are written only by the payment
// reconciler or the admin surface.
type Task struct {
	ID            string     `json:"task_id"`
	OwnerID       string     `json:"owner_id"`
	Name          string     `json:"name"`
	ScriptKey     string     `json:"script_key,omitempty"`
	ScheduleValue string     `json:"schedule_value,omitempty"` // "HH:MM"
	PCName        string     `json:"pc_name"`
	Enabled       bool       `json:"enabled"`
	Notes         string     `json:"notes,omitempty"`
	PlanTag       PlanTag    `json:"plan_tag"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	PaymentDate   *time.Time `json:"payment_date,omitempty"` // civil date, JST
	PaymentAmount string     `json:"payment_amount,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RerunRequest is one admission into the re-run queue. PCName is a
// snapshot of the task's pc_name at enqueue time so the audit trail
// survives later task edits.
type RerunRequest struct {
	ID          string      `json:"request_id"`
	TaskID      string      `json:"task_id"`
	OwnerID     string      `json:"owner_id"`
	PCName      string      `json:"pc_name"`
	RequestedBy string      `json:"requested_by,omitempty"`
	Status      RerunStatus `json:"status"`
	RequestedAt time.Time   `json:"requested_at"`
	LockedAt    *time.Time  `json:"locked_at,omitempty"`
	LockedBy    string      `json:"locked_by,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	ExitCode    *int        `json:"exit_code,omitempty"`
	Stdout      string      `json:"stdout,omitempty"`
	Stderr      string      `json:"stderr,omitempty"`
}

// PaymentEvent is one idempotency record for a payment-provider webhook
// delivery. Rows are written once and never touched again.
type PaymentEvent struct {
	EventID    string    `json:"event_id"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}
