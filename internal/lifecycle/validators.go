package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"field-service-backend/internal/models"
)

// A validator checks the business preconditions for entering one destination
// state. It returns every unmet precondition, not just the first, so callers
// can surface the full list at once. An empty slice means the transition may
// proceed.
type validator func(ctx context.Context, job models.Job, store Reader) []string

// validators maps each destination state to its guard. States absent here
// are gated by topology alone.
var validators = map[models.Status]validator{
	models.StatusScheduled:   validateScheduled,
	models.StatusEnRoute:     validateDispatchable,
	models.StatusOnSite:      validateDispatchable,
	models.StatusInProgress:  validateInProgress,
	models.StatusCompleted:   validateCompleted,
	models.StatusInvoiced:    validateInvoiced,
	models.StatusPaid:        validatePaid,
	models.StatusNeedsPermit: validateNeedsPermit,
	models.StatusWeatherHold: validateWeatherHold,
}

// runValidators applies the destination-state guard, if any.
func runValidators(ctx context.Context, to models.Status, job models.Job, store Reader) []string {
	guard, ok := validators[to]
	if !ok {
		return nil
	}
	return guard(ctx, job, store)
}

func validateScheduled(_ context.Context, job models.Job, _ Reader) []string {
	var reasons []string
	if job.ScheduledDate == nil {
		reasons = append(reasons, "a scheduled date is required")
	}
	if len(job.AssignedCrew) == 0 {
		reasons = append(reasons, "at least one crew member must be assigned")
	}
	if job.PermitRequired && job.PermitStatus != models.PermitApproved {
		reasons = append(reasons, "the required permit has not been approved")
	}
	if job.DepositRequired &&
		job.DepositStatus != models.DepositReceived &&
		job.DepositStatus != models.DepositWaived {
		reasons = append(reasons, "the required deposit has not been received or waived")
	}
	return reasons
}

// validateDispatchable covers en_route and on_site: the job must already be
// scheduled with a crew before anyone drives anywhere.
func validateDispatchable(_ context.Context, job models.Job, _ Reader) []string {
	var reasons []string
	if job.ScheduledDate == nil {
		reasons = append(reasons, "a scheduled date is required")
	}
	if len(job.AssignedCrew) == 0 {
		reasons = append(reasons, "at least one crew member must be assigned")
	}
	return reasons
}

func validateInProgress(ctx context.Context, job models.Job, store Reader) []string {
	var reasons []string
	if job.ScheduledDate == nil {
		reasons = append(reasons, "a scheduled date is required")
	}
	if len(job.AssignedCrew) == 0 {
		reasons = append(reasons, "at least one crew member must be assigned")
	}
	if job.JHARequired {
		if len(job.JHA) == 0 {
			reasons = append(reasons, "the job hazard analysis has not been filled in")
		}
		if job.JHAAcknowledgedAt == nil {
			reasons = append(reasons, "the job hazard analysis has not been acknowledged")
		}
	}
	forms, err := store.FormsForJob(ctx, job.ID)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("could not verify job forms: %v", err))
		return reasons
	}
	for _, form := range forms {
		if form.Status != models.FormStatusCompleted {
			reasons = append(reasons, fmt.Sprintf("form %q is not completed", form.Name))
		}
	}
	return reasons
}

func validateCompleted(_ context.Context, job models.Job, _ Reader) []string {
	var reasons []string
	if job.WorkStartTime == nil {
		reasons = append(reasons, "work was never started")
	}
	if job.WorkEndTime == nil {
		reasons = append(reasons, "a work end time is required")
	}
	unchecked := 0
	for _, item := range job.CompletionChecklist {
		if !item.Checked {
			unchecked++
		}
	}
	if unchecked > 0 {
		reasons = append(reasons, fmt.Sprintf("completion checklist has %d unchecked items", unchecked))
	}
	return reasons
}

func validateInvoiced(ctx context.Context, job models.Job, store Reader) []string {
	if job.InvoiceID == nil {
		return []string{"no invoice is linked to this job"}
	}
	if _, err := store.GetInvoice(ctx, *job.InvoiceID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []string{fmt.Sprintf("linked invoice %s could not be found", *job.InvoiceID)}
		}
		return []string{fmt.Sprintf("could not verify linked invoice %s: %v", *job.InvoiceID, err)}
	}
	return nil
}

func validatePaid(_ context.Context, job models.Job, _ Reader) []string {
	var reasons []string
	if job.PaymentReceivedAt == nil {
		reasons = append(reasons, "no payment has been recorded")
	}
	if job.InvoiceID == nil {
		reasons = append(reasons, "no invoice is linked to this job")
	}
	return reasons
}

func validateNeedsPermit(_ context.Context, job models.Job, _ Reader) []string {
	if !job.PermitRequired {
		return []string{"this job does not require a permit"}
	}
	return nil
}

func validateWeatherHold(_ context.Context, job models.Job, _ Reader) []string {
	if job.WeatherHoldReason == "" {
		return []string{"a weather hold reason is required"}
	}
	return nil
}
