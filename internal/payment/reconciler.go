// Package payment turns provider webhook deliveries into idempotent
// entitlement updates. Retries are the provider's job; ours is to make
// them safe.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskline/backend/internal/entitlement"
	"taskline/backend/internal/store"
)

const checkoutCompleted = "checkout.session.completed"

var ErrBadPayload = errors.New("invalid event payload")

// Event is the subset of a provider event this system consumes.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ClientReferenceID string `json:"client_reference_id"`
			AmountTotal       *int64 `json:"amount_total"`
			Currency          string `json:"currency"`
			Created           int64  `json:"created"`
		} `json:"object"`
	} `json:"data"`
}

// Result is the acknowledgment returned to the provider. Business
// problems discovered after the signature check (unknown task, missing
// reference) surface as warnings, never as failures: money has already
// moved and retrying cannot fix them.
type Result struct {
	OK            bool   `json:"ok"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	Ignored       string `json:"ignored,omitempty"`
	Warning       string `json:"warning,omitempty"`
	TaskID        string `json:"task_id,omitempty"`
	Plan          string `json:"plan,omitempty"`
	PaymentDate   string `json:"payment_date,omitempty"`
	PaymentAmount string `json:"payment_amount,omitempty"`
}

type Reconciler struct {
	store  store.Store
	secret string
	now    func() time.Time
}

func NewReconciler(st store.Store, secret string) *Reconciler {
	return &Reconciler{store: st, secret: secret, now: time.Now}
}

// WithClock overrides the reconciler's clock. Tests only.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Process verifies, deduplicates and applies one webhook delivery.
// Signature failures return an error (the handler rejects the
// delivery); everything after the signature check acknowledges.
func (r *Reconciler) Process(ctx context.Context, rawBody []byte, sigHeader string) (Result, error) {
	if err := VerifySignature(rawBody, sigHeader, r.secret, r.now()); err != nil {
		return Result{}, err
	}

	var ev Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	eventID := strings.TrimSpace(ev.ID)
	eventType := strings.TrimSpace(ev.Type)

	if eventType != checkoutCompleted {
		if eventID != "" {
			inserted, err := r.store.RecordPaymentEvent(ctx, eventID, rawBody)
			if err != nil {
				return Result{}, err
			}
			if !inserted {
				return Result{OK: true, Duplicate: true}, nil
			}
		}
		return Result{OK: true, Ignored: eventType}, nil
	}

	taskID, plan := entitlement.SplitReference(ev.Data.Object.ClientReferenceID)
	if taskID == "" {
		if eventID != "" {
			inserted, err := r.store.RecordPaymentEvent(ctx, eventID, rawBody)
			if err != nil {
				return Result{}, err
			}
			if !inserted {
				return Result{OK: true, Duplicate: true}, nil
			}
		}
		return Result{OK: true, Warning: "missing client_reference_id"}, nil
	}

	paidAt := r.now().UTC()
	if ev.Data.Object.Created > 0 {
		paidAt = time.Unix(ev.Data.Object.Created, 0).UTC()
	} else if ev.Created > 0 {
		paidAt = time.Unix(ev.Created, 0).UTC()
	}
	paymentDate := entitlement.CivilDate(paidAt)
	amount := formatAmount(ev.Data.Object.AmountTotal, ev.Data.Object.Currency)

	_, err := r.store.ApplyCheckout(ctx, store.ApplyCheckoutRequest{
		EventID:       eventID,
		Payload:       rawBody,
		TaskID:        taskID,
		PlanMonths:    entitlement.PlanMonths(plan),
		PaidAt:        paidAt,
		PaymentDate:   paymentDate,
		PaymentAmount: amount,
	})
	switch {
	case errors.Is(err, store.ErrDuplicateEvent):
		return Result{OK: true, Duplicate: true}, nil
	case errors.Is(err, store.ErrNotFound):
		return Result{OK: true, Warning: "task not found", TaskID: taskID}, nil
	case err != nil:
		return Result{}, err
	}

	return Result{
		OK:            true,
		TaskID:        taskID,
		Plan:          plan,
		PaymentDate:   paymentDate.Format("2006-01-02"),
		PaymentAmount: amount,
	}, nil
}

func formatAmount(total *int64, currency string) string {
	if total == nil {
		return ""
	}
	s := strconv.FormatInt(*total, 10)
	if cur := strings.ToUpper(strings.TrimSpace(currency)); cur != "" {
		return s + " " + cur // e.g. "12000 JPY"
	}
	return s
}
