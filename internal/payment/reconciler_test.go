package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/backend/internal/entitlement"
	"taskline/backend/internal/model"
	"taskline/backend/internal/store/memory"
)

const testSecret = "whsec_test"

func newTestReconciler(t *testing.T, at time.Time) (*Reconciler, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	r := NewReconciler(st, testSecret).WithClock(func() time.Time { return at })
	return r, st
}

func seedPaidTask(t *testing.T, st *memory.Store) model.Task {
	t.Helper()
	ctx := context.Background()

	_, err := st.UpsertUser(ctx, model.User{ID: "U1", Name: "tester"})
	require.NoError(t, err)

	task, err := st.CreateTask(ctx, model.Task{
		OwnerID:       "U1",
		Name:          "日次集計",
		ScriptKey:     "daily_report",
		ScheduleValue: "07:30",
		Enabled:       true,
	})
	require.NoError(t, err)
	return task
}

func checkoutBody(eventID, reference string, created int64, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"checkout.session.completed","created":%d,"data":{"object":{"client_reference_id":%q,"amount_total":%d,"currency":"jpy","created":%d}}}`,
		eventID, created, reference, amount, created))
}

func TestProcessAppliesEntitlement(t *testing.T) {
	// 2024-01-31T10:00Z; 3 months lands on the clamped Apr 30 in JST.
	paidAt := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)
	r, st := newTestReconciler(t, paidAt)
	task := seedPaidTask(t, st)

	body := checkoutBody("evt_1", task.ID+"_3m", paidAt.Unix(), 12000)
	res, err := r.Process(context.Background(), body, SignPayload(body, testSecret, paidAt))
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.False(t, res.Duplicate)
	assert.Equal(t, task.ID, res.TaskID)
	assert.Equal(t, "3m", res.Plan)
	assert.Equal(t, "2024-01-31", res.PaymentDate)
	assert.Equal(t, "12000 JPY", res.PaymentAmount)

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanTagPaid, got.PlanTag)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, time.April, got.ExpiresAt.In(entitlement.JST).Month())
	assert.Equal(t, 30, got.ExpiresAt.In(entitlement.JST).Day())
	assert.Equal(t, "12000 JPY", got.PaymentAmount)
	require.NotNil(t, got.PaymentDate)
}

func TestProcessDuplicateDelivery(t *testing.T) {
	paidAt := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)
	r, st := newTestReconciler(t, paidAt)
	task := seedPaidTask(t, st)

	body := checkoutBody("evt_1", task.ID+"_3m", paidAt.Unix(), 12000)
	sig := SignPayload(body, testSecret, paidAt)

	first, err := r.Process(context.Background(), body, sig)
	require.NoError(t, err)
	require.True(t, first.OK)

	after, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	wantExpiry := *after.ExpiresAt

	// Redelivery acknowledges but extends nothing.
	second, err := r.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.True(t, second.Duplicate)

	again, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, wantExpiry, *again.ExpiresAt)
}

func TestProcessLegacyPlanRecordsWithoutExtending(t *testing.T) {
	paidAt := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)
	r, st := newTestReconciler(t, paidAt)
	task := seedPaidTask(t, st)

	body := checkoutBody("evt_1", task.ID+"_1m", paidAt.Unix(), 2000)
	res, err := r.Process(context.Background(), body, SignPayload(body, testSecret, paidAt))
	require.NoError(t, err)
	assert.True(t, res.OK)

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanTagFree, got.PlanTag)
	assert.Nil(t, got.ExpiresAt)
	require.NotNil(t, got.PaymentDate)
	assert.Equal(t, "2000 JPY", got.PaymentAmount)
}

func TestProcessIgnoresOtherEventTypes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, st := newTestReconciler(t, now)

	body := []byte(`{"id":"evt_sub","type":"customer.subscription.updated","created":1700000000,"data":{"object":{}}}`)
	sig := SignPayload(body, testSecret, now)

	res, err := r.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "customer.subscription.updated", res.Ignored)

	// Still deduplicated through the ledger.
	res, err = r.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Tasks)
}

func TestProcessMissingReferenceWarns(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, _ := newTestReconciler(t, now)

	body := checkoutBody("evt_1", "", now.Unix(), 12000)
	res, err := r.Process(context.Background(), body, SignPayload(body, testSecret, now))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "missing client_reference_id", res.Warning)
}

func TestProcessUnknownTaskWarns(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, _ := newTestReconciler(t, now)

	body := checkoutBody("evt_1", "no-such-task_3m", now.Unix(), 12000)
	sig := SignPayload(body, testSecret, now)

	res, err := r.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "task not found", res.Warning)
	assert.Equal(t, "no-such-task", res.TaskID)

	// The ledger row persisted, so the retry deduplicates.
	res, err = r.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestProcessRejectsBadSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, st := newTestReconciler(t, now)
	task := seedPaidTask(t, st)

	body := checkoutBody("evt_1", task.ID+"_3m", now.Unix(), 12000)

	_, err := r.Process(context.Background(), body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrTimestampOutOfBounds)

	_, err = r.Process(context.Background(), body, SignPayload(body, "wrong", now))
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanTagFree, got.PlanTag)
}

func TestProcessRejectsBadJSON(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, _ := newTestReconciler(t, now)

	body := []byte("{not json")
	_, err := r.Process(context.Background(), body, SignPayload(body, testSecret, now))
	assert.ErrorIs(t, err, ErrBadPayload)
}
