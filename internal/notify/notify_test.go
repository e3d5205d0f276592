package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-service-backend/internal/models"
)

func newTestDispatcher(t *testing.T, offsets ...time.Duration) (*Dispatcher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewDispatcher(client, offsets), mr
}

func TestNotifyCrewQueuesMessage(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	job := models.Job{ID: "job-1"}
	require.NoError(t, d.NotifyCrew(ctx, "crew-7", job, "You have been scheduled for a job"))

	depth, err := d.OutboxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	msg, ok, err := d.PopOutbox(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindCrewNotice, msg.Kind)
	assert.Equal(t, "crew-7", msg.Recipient)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, "You have been scheduled for a job", msg.Body)
}

func TestNotifyClientQueuesMessage(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.NotifyClient(ctx, "client-1", models.Job{ID: "job-1"}, "Job cancelled"))

	msg, ok, err := d.PopOutbox(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindClientNotice, msg.Kind)
	assert.Equal(t, "client-1", msg.Recipient)
}

func TestPopOutboxEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, ok, err := d.PopOutbox(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduleRemindersUsesDefaultCadence(t *testing.T) {
	d, mr := newTestDispatcher(t)
	ctx := context.Background()

	inv := models.Invoice{
		ID: "inv-1", JobID: "job-1", ClientID: "client-1",
		Number: "INV-2026-0001", IssuedAt: time.Now().UTC(),
	}
	require.NoError(t, d.ScheduleReminders(ctx, inv))

	members, err := mr.ZMembers(reminderKey)
	require.NoError(t, err)
	assert.Len(t, members, 2, "default cadence is two reminders")
}

func TestPromoteDueMovesOnlyExpiredReminders(t *testing.T) {
	d, mr := newTestDispatcher(t, 24*time.Hour, 48*time.Hour)
	ctx := context.Background()

	issued := time.Now().UTC()
	inv := models.Invoice{
		ID: "inv-1", JobID: "job-1", ClientID: "client-1",
		Number: "INV-2026-0001", IssuedAt: issued,
	}
	require.NoError(t, d.ScheduleReminders(ctx, inv))

	// Nothing due yet.
	n, err := d.PromoteDue(ctx, issued.Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	// First reminder due, second still pending.
	n, err = d.PromoteDue(ctx, issued.Add(25*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	remaining, err := mr.ZMembers(reminderKey)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	msg, ok, err := d.PopOutbox(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindPaymentReminder, msg.Kind)
	assert.Equal(t, "client-1", msg.Recipient)
	assert.Equal(t, "inv-1", msg.InvoiceID)
	assert.Contains(t, msg.Body, "INV-2026-0001")

	// Both past due; the remaining one comes over.
	n, err = d.PromoteDue(ctx, issued.Add(72*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(reminderKey), "reminder set drains completely")
}

func TestPromoteDueHonorsLimit(t *testing.T) {
	d, _ := newTestDispatcher(t, time.Hour, 2*time.Hour, 3*time.Hour)
	ctx := context.Background()

	issued := time.Now().UTC()
	inv := models.Invoice{ID: "inv-1", ClientID: "client-1", Number: "INV-2026-0001", IssuedAt: issued}
	require.NoError(t, d.ScheduleReminders(ctx, inv))

	n, err := d.PromoteDue(ctx, issued.Add(4*time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	depth, err := d.OutboxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestOutboxIsFIFO(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	job := models.Job{ID: "job-1"}
	require.NoError(t, d.NotifyCrew(ctx, "first", job, "a"))
	require.NoError(t, d.NotifyCrew(ctx, "second", job, "b"))

	msg, ok, err := d.PopOutbox(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", msg.Recipient)

	msg, ok, err = d.PopOutbox(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", msg.Recipient)
}
