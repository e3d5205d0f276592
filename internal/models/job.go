package models

import (
	"fmt"
	"time"
)

// Status enumerates job lifecycle states persisted in Postgres.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusNeedsPermit     Status = "needs_permit"
	StatusWaitingOnClient Status = "waiting_on_client"
	StatusScheduled       Status = "scheduled"
	StatusEnRoute         Status = "en_route"
	StatusOnSite          Status = "on_site"
	StatusWeatherHold     Status = "weather_hold"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusInvoiced        Status = "invoiced"
	StatusPaid            Status = "paid"
	StatusCancelled       Status = "cancelled"
)

// AllStatuses lists every state the lifecycle knows about.
var AllStatuses = []Status{
	StatusDraft, StatusNeedsPermit, StatusWaitingOnClient, StatusScheduled,
	StatusEnRoute, StatusOnSite, StatusWeatherHold, StatusInProgress,
	StatusCompleted, StatusInvoiced, StatusPaid, StatusCancelled,
}

// Valid reports whether s is one of the defined lifecycle states.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Permit statuses tracked on a job.
const (
	PermitPending  = "pending"
	PermitApproved = "approved"
	PermitRejected = "rejected"
)

// Deposit statuses tracked on a job.
const (
	DepositPending  = "pending"
	DepositReceived = "received"
	DepositWaived   = "waived"
)

// Transition sources recorded on audit rows.
const (
	SourceManual    = "manual"
	SourceAutomated = "automated"
	SourceSystem    = "system"
)

// ChecklistItem is one entry of a job's completion checklist.
type ChecklistItem struct {
	Item    string `json:"item"`
	Checked bool   `json:"checked"`
}

// Job represents a unit of field work persisted in Postgres.
type Job struct {
	ID                  string          `json:"id"`
	ClientID            string          `json:"client_id"`
	PropertyID          string          `json:"property_id"`
	QuoteID             *string         `json:"quote_id,omitempty"`
	Status              Status          `json:"status"`
	LastStateChange     time.Time       `json:"last_state_change"`
	ScheduledDate       *time.Time      `json:"scheduled_date,omitempty"`
	AssignedCrew        []string        `json:"assigned_crew"`
	JHARequired         bool            `json:"jha_required"`
	JHA                 map[string]any  `json:"jha,omitempty"`
	JHAAcknowledgedAt   *time.Time      `json:"jha_acknowledged_at,omitempty"`
	PermitRequired      bool            `json:"permit_required"`
	PermitStatus        string          `json:"permit_status,omitempty"`
	DepositRequired     bool            `json:"deposit_required"`
	DepositStatus       string          `json:"deposit_status,omitempty"`
	WorkStartTime       *time.Time      `json:"work_start_time,omitempty"`
	WorkEndTime         *time.Time      `json:"work_end_time,omitempty"`
	CompletionChecklist []ChecklistItem `json:"completion_checklist,omitempty"`
	InvoiceID           *string         `json:"invoice_id,omitempty"`
	PaymentReceivedAt   *time.Time      `json:"payment_received_at,omitempty"`
	WeatherHoldReason   string          `json:"weather_hold_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// StateTransition is an append-only audit record of one status change.
// FromState is nil only for the creation transition.
type StateTransition struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	FromState *Status        `json:"from_state,omitempty"`
	ToState   Status         `json:"to_state"`
	Actor     string         `json:"actor"`
	ActorRole string         `json:"actor_role"`
	Source    string         `json:"source"`
	Reason    string         `json:"reason,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ApplyFieldUpdates sets caller-supplied job fields atomically with a
// transition. Only fields a transition may legitimately carry are accepted;
// status is deliberately not one of them.
func ApplyFieldUpdates(job *Job, updates map[string]any) error {
	for key, raw := range updates {
		switch key {
		case "weather_hold_reason":
			v, ok := raw.(string)
			if !ok {
				return fmt.Errorf("field %q expects a string", key)
			}
			job.WeatherHoldReason = v
		case "scheduled_date":
			t, err := asTime(raw)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			job.ScheduledDate = t
		case "assigned_crew":
			crew, err := asStringSlice(raw)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			job.AssignedCrew = crew
		case "work_end_time":
			t, err := asTime(raw)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			job.WorkEndTime = t
		case "payment_received_at":
			t, err := asTime(raw)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			job.PaymentReceivedAt = t
		default:
			return fmt.Errorf("field %q cannot be updated through a transition", key)
		}
	}
	return nil
}

func asTime(raw any) (*time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &v, nil
	case *time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("expects an RFC3339 timestamp, got %T", raw)
	}
}

func asStringSlice(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expects strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expects a list of strings, got %T", raw)
	}
}
