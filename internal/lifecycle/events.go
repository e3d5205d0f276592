package lifecycle

import (
	"context"

	"field-service-backend/internal/models"
)

// EventType names an externally published lifecycle notification. Only a
// subset of destination states maps to an event; the rest emit nothing.
type EventType string

const (
	EventJobScheduled EventType = "job_scheduled"
	EventJobStarted   EventType = "job_started"
	EventJobCompleted EventType = "job_completed"
	EventJobCancelled EventType = "job_cancelled"
)

// eventForState maps destination states to their published event type.
var eventForState = map[models.Status]EventType{
	models.StatusScheduled:  EventJobScheduled,
	models.StatusInProgress: EventJobStarted,
	models.StatusCompleted:  EventJobCompleted,
	models.StatusCancelled:  EventJobCancelled,
}

// JobSnapshot is the enriched job view carried on domain events so
// downstream consumers do not need a second fetch. Related aggregates are
// included when they could be resolved; a missing aggregate never blocks
// emission.
type JobSnapshot struct {
	Job      models.Job       `json:"job"`
	Client   *models.Client   `json:"client,omitempty"`
	Property *models.Property `json:"property,omitempty"`
	Quote    *models.Quote    `json:"quote,omitempty"`
}

// TransitionSummary is the compact transition view carried on events.
type TransitionSummary struct {
	From   *models.Status `json:"from,omitempty"`
	To     models.Status  `json:"to"`
	Actor  string         `json:"actor"`
	Reason string         `json:"reason,omitempty"`
}

// Event is one externally visible lifecycle notification.
type Event struct {
	Type       EventType         `json:"type"`
	Job        JobSnapshot       `json:"job"`
	Transition TransitionSummary `json:"transition"`
}

// Sink receives domain events. Delivery is best effort; a failing sink is
// logged and never affects the committed transition.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// Notifier delivers operational notices to crew members and clients.
// Fire-and-forget from the lifecycle's point of view.
type Notifier interface {
	NotifyCrew(ctx context.Context, member string, job models.Job, message string) error
	NotifyClient(ctx context.Context, clientID string, job models.Job, message string) error
}

// ReminderScheduler queues future payment reminders for an invoice.
type ReminderScheduler interface {
	ScheduleReminders(ctx context.Context, inv models.Invoice) error
}
