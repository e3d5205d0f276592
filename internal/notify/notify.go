// Package notify coordinates payment reminders and crew/client notices in
// Redis. Reminders sit in a sorted set keyed by due time; everything due is
// promoted into a list outbox the notifier worker drains.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"field-service-backend/internal/models"
	"field-service-backend/internal/telemetry"
)

const (
	reminderKey = "notify:reminders"
	outboxKey   = "notify:outbox"
)

// Message kinds carried through the outbox.
const (
	KindCrewNotice      = "crew_notice"
	KindClientNotice    = "client_notice"
	KindPaymentReminder = "payment_reminder"
)

// Message is one queued notification. Delivery to the real channel (SMS,
// email) is the sender collaborator's problem.
type Message struct {
	Kind      string    `json:"kind"`
	Recipient string    `json:"recipient"`
	JobID     string    `json:"job_id,omitempty"`
	InvoiceID string    `json:"invoice_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Dispatcher schedules reminders and queues notices in Redis. It implements
// lifecycle.Notifier and lifecycle.ReminderScheduler.
type Dispatcher struct {
	client          *redis.Client
	reminderOffsets []time.Duration
}

// NewDispatcher builds a dispatcher. reminderOffsets are the delays after
// invoice issue at which payment reminders fire.
func NewDispatcher(client *redis.Client, reminderOffsets []time.Duration) *Dispatcher {
	if len(reminderOffsets) == 0 {
		reminderOffsets = []time.Duration{7 * 24 * time.Hour, 14 * 24 * time.Hour}
	}
	return &Dispatcher{client: client, reminderOffsets: reminderOffsets}
}

// NotifyCrew queues a notice for one crew member.
func (d *Dispatcher) NotifyCrew(ctx context.Context, member string, job models.Job, body string) error {
	return d.push(ctx, Message{
		Kind:      KindCrewNotice,
		Recipient: member,
		JobID:     job.ID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
}

// NotifyClient queues a notice for the job's client.
func (d *Dispatcher) NotifyClient(ctx context.Context, clientID string, job models.Job, body string) error {
	return d.push(ctx, Message{
		Kind:      KindClientNotice,
		Recipient: clientID,
		JobID:     job.ID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
}

func (d *Dispatcher) push(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := d.client.RPush(ctx, outboxKey, payload).Err(); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	telemetry.NotificationsQueued.Inc()
	return nil
}

// ScheduleReminders registers the configured reminder cadence for a fresh
// invoice.
func (d *Dispatcher) ScheduleReminders(ctx context.Context, inv models.Invoice) error {
	pipe := d.client.TxPipeline()
	for i, offset := range d.reminderOffsets {
		msg := Message{
			Kind:      KindPaymentReminder,
			Recipient: inv.ClientID,
			JobID:     inv.JobID,
			InvoiceID: inv.ID,
			Body:      fmt.Sprintf("Reminder %d: invoice %s is awaiting payment", i+1, inv.Number),
			CreatedAt: time.Now().UTC(),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal reminder: %w", err)
		}
		due := inv.IssuedAt.Add(offset)
		pipe.ZAdd(ctx, reminderKey, redis.Z{Score: float64(due.UnixMilli()), Member: payload})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	return nil
}

// PromoteDue moves reminders whose due time has passed into the outbox.
// Returns how many were promoted.
func (d *Dispatcher) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	members, err := d.client.ZRangeByScore(ctx, reminderKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	pipe := d.client.TxPipeline()
	for _, m := range members {
		pipe.ZRem(ctx, reminderKey, m)
		pipe.RPush(ctx, outboxKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(members), nil
}

// PopOutbox takes the next queued notification, or ok=false when the outbox
// is empty.
func (d *Dispatcher) PopOutbox(ctx context.Context) (Message, bool, error) {
	raw, err := d.client.LPop(ctx, outboxKey).Result()
	if err == redis.Nil {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, false, fmt.Errorf("unmarshal notification: %w", err)
	}
	return msg, true, nil
}

// OutboxDepth returns how many notifications are waiting.
func (d *Dispatcher) OutboxDepth(ctx context.Context) (int64, error) {
	return d.client.LLen(ctx, outboxKey).Result()
}
