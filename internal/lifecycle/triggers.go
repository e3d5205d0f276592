package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"field-service-backend/internal/billing"
	"field-service-backend/internal/models"
	"field-service-backend/internal/telemetry"
)

// A trigger runs after a transition has committed. Triggers may mutate the
// in-memory job copy so the caller sees fields they set (work start time,
// invoice link), but they never touch status. Failures are logged and
// swallowed; a trigger can never undo the committed transition.
type trigger func(ctx context.Context, m *Machine, job *models.Job, rec models.StateTransition) error

var triggers = map[models.Status]trigger{
	models.StatusScheduled:  triggerScheduled,
	models.StatusInProgress: triggerInProgress,
	models.StatusCompleted:  triggerCompleted,
	models.StatusInvoiced:   triggerInvoiced,
	models.StatusPaid:       triggerPaid,
	models.StatusCancelled:  triggerCancelled,
}

// runTriggers executes the destination state's automation inside its own
// error boundary.
func (m *Machine) runTriggers(ctx context.Context, job *models.Job, rec models.StateTransition) {
	fire, ok := triggers[job.Status]
	if !ok {
		return
	}
	if err := fire(ctx, m, job, rec); err != nil {
		telemetry.TriggerFailures.Inc()
		m.log.Error("automation trigger failed",
			zap.String("job_id", job.ID),
			zap.String("to_state", string(job.Status)),
			zap.Error(err))
	}
}

func triggerScheduled(ctx context.Context, m *Machine, job *models.Job, _ models.StateTransition) error {
	var errs []error
	for _, member := range job.AssignedCrew {
		msg := "You have been scheduled for a job"
		if job.ScheduledDate != nil {
			msg = fmt.Sprintf("You have been scheduled for a job on %s", job.ScheduledDate.Format("2006-01-02"))
		}
		if err := m.notifier.NotifyCrew(ctx, member, *job, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify crew %s: %w", member, err))
		}
	}
	return errors.Join(errs...)
}

func triggerInProgress(ctx context.Context, m *Machine, job *models.Job, _ models.StateTransition) error {
	if job.WorkStartTime != nil {
		return nil
	}
	now := m.now().UTC()
	if err := m.store.SetWorkStart(ctx, job.ID, now); err != nil {
		return fmt.Errorf("stamp work start: %w", err)
	}
	job.WorkStartTime = &now
	return nil
}

// triggerCompleted synthesizes a draft invoice for the job. The check on
// InvoiceID makes re-runs safe: a crash-and-retry never produces a second
// invoice for the same job.
func triggerCompleted(ctx context.Context, m *Machine, job *models.Job, _ models.StateTransition) error {
	if job.InvoiceID == nil {
		inv, err := m.synthesizeInvoice(ctx, job)
		if err != nil {
			return err
		}
		if err := m.store.LinkInvoice(ctx, job.ID, inv.ID); err != nil {
			return fmt.Errorf("link invoice %s: %w", inv.ID, err)
		}
		job.InvoiceID = &inv.ID

		if err := m.reminders.ScheduleReminders(ctx, inv); err != nil {
			m.log.Warn("could not schedule payment reminders",
				zap.String("invoice_id", inv.ID), zap.Error(err))
		} else {
			telemetry.RemindersScheduled.Inc()
		}
	}

	completed, err := m.store.CompletedJobCount(ctx, job.ClientID)
	if err != nil {
		return fmt.Errorf("count completed jobs for client %s: %w", job.ClientID, err)
	}
	if completed == 1 {
		if err := m.store.SetClientCategory(ctx, job.ClientID, models.ClientCategoryActive); err != nil {
			return fmt.Errorf("upgrade client category: %w", err)
		}
	}
	return nil
}

func (m *Machine) synthesizeInvoice(ctx context.Context, job *models.Job) (models.Invoice, error) {
	client, err := m.store.GetClient(ctx, job.ClientID)
	if err != nil {
		return models.Invoice{}, fmt.Errorf("resolve client %s: %w", job.ClientID, err)
	}
	address := ""
	if property, err := m.store.GetProperty(ctx, job.PropertyID); err == nil {
		address = property.Address
	}

	var items []models.InvoiceLineItem
	var discount, taxRate int64
	if job.QuoteID != nil {
		quote, err := m.store.GetQuote(ctx, *job.QuoteID)
		if err != nil {
			return models.Invoice{}, fmt.Errorf("resolve quote %s: %w", *job.QuoteID, err)
		}
		items = billing.LineItemsFromQuote(quote)
		discount = quote.DiscountCents
		taxRate = quote.TaxRateBasisPoints
	}
	totals := billing.ComputeTotals(items, discount, taxRate)

	inv := models.Invoice{
		ID:             uuid.New().String(),
		JobID:          job.ID,
		ClientID:       client.ID,
		Status:         models.InvoiceStatusDraft,
		BillingName:    client.Name,
		BillingEmail:   client.Email,
		BillingAddress: address,
		LineItems:      items,
		SubtotalCents:  totals.SubtotalCents,
		DiscountCents:  totals.DiscountCents,
		TaxCents:       totals.TaxCents,
		TotalCents:     totals.TotalCents,
		IssuedAt:       m.now().UTC(),
	}

	created, degraded, err := m.allocator.Issue(ctx, inv)
	if degraded {
		telemetry.InvoiceFallbacks.Inc()
	}
	if err != nil {
		return models.Invoice{}, fmt.Errorf("issue invoice: %w", err)
	}
	return created, nil
}

func triggerInvoiced(ctx context.Context, m *Machine, job *models.Job, _ models.StateTransition) error {
	if job.InvoiceID == nil {
		return errors.New("no invoice linked to mark sent")
	}
	return m.store.UpdateInvoiceStatus(ctx, *job.InvoiceID, models.InvoiceStatusSent, nil)
}

func triggerPaid(ctx context.Context, m *Machine, job *models.Job, _ models.StateTransition) error {
	if job.InvoiceID == nil {
		return errors.New("no invoice linked to mark paid")
	}
	paidAt := job.PaymentReceivedAt
	if paidAt == nil {
		now := m.now().UTC()
		paidAt = &now
	}
	return m.store.UpdateInvoiceStatus(ctx, *job.InvoiceID, models.InvoiceStatusPaid, paidAt)
}

func triggerCancelled(ctx context.Context, m *Machine, job *models.Job, rec models.StateTransition) error {
	var errs []error

	completed, err := m.store.CompletedJobCount(ctx, job.ClientID)
	if err != nil {
		errs = append(errs, fmt.Errorf("count completed jobs: %w", err))
	} else if completed == 0 {
		if err := m.store.SetClientCategory(ctx, job.ClientID, models.ClientCategoryPotential); err != nil {
			errs = append(errs, fmt.Errorf("downgrade client category: %w", err))
		}
	}

	msg := "Job cancelled"
	if rec.Reason != "" {
		msg = fmt.Sprintf("Job cancelled: %s", rec.Reason)
	}
	for _, member := range job.AssignedCrew {
		if err := m.notifier.NotifyCrew(ctx, member, *job, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify crew %s: %w", member, err))
		}
	}
	if err := m.notifier.NotifyClient(ctx, job.ClientID, *job, msg); err != nil {
		errs = append(errs, fmt.Errorf("notify client: %w", err))
	}
	return errors.Join(errs...)
}
