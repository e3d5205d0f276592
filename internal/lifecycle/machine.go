package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"field-service-backend/internal/billing"
	"field-service-backend/internal/models"
	"field-service-backend/internal/telemetry"
)

// errRejected aborts the transition transaction without treating the
// rollback as a store failure. The rejection reasons travel alongside it.
var errRejected = errors.New("transition rejected")

// Machine is the transition orchestrator: the only sanctioned writer of a
// job's status. Every status change goes through Transition, which locks
// the job row, validates, and commits the new state together with its audit
// row before any automation runs.
type Machine struct {
	store     Store
	allocator *billing.Allocator
	sink      Sink
	notifier  Notifier
	reminders ReminderScheduler
	log       *zap.Logger
	now       func() time.Time
}

// NewMachine wires the orchestrator and its collaborators.
func NewMachine(store Store, allocator *billing.Allocator, sink Sink, notifier Notifier, reminders ReminderScheduler, log *zap.Logger) *Machine {
	return &Machine{
		store:     store,
		allocator: allocator,
		sink:      sink,
		notifier:  notifier,
		reminders: reminders,
		log:       log,
		now:       time.Now,
	}
}

// TransitionRequest carries who is making the change and any job fields to
// set atomically with it.
type TransitionRequest struct {
	Actor     string         `json:"actor"`
	ActorRole string         `json:"actor_role"`
	Source    string         `json:"source"`
	Reason    string         `json:"reason"`
	Notes     string         `json:"notes"`
	Metadata  map[string]any `json:"metadata"`
	Updates   map[string]any `json:"updates"`
}

// TransitionResult is what a caller gets back: either the updated job with
// its audit record, or the full list of reasons the transition was refused.
type TransitionResult struct {
	OK     bool                   `json:"ok"`
	Job    models.Job             `json:"job,omitempty"`
	Record models.StateTransition `json:"transition,omitempty"`
	Errors []string               `json:"errors,omitempty"`
}

// Transition moves the job to the requested state. Business rejections come
// back in the result with OK=false and a nil error; a non-nil error means a
// store-level failure where nothing was committed (lock timeouts included)
// and the caller may retry.
func (m *Machine) Transition(ctx context.Context, jobID string, to models.Status, req TransitionRequest) (TransitionResult, error) {
	if !to.Valid() {
		telemetry.TransitionRejects.WithLabelValues("unknown_state").Inc()
		return TransitionResult{Errors: []string{fmt.Sprintf("unknown state %q", to)}}, nil
	}
	if req.Source == "" {
		req.Source = models.SourceManual
	}

	var (
		job         models.Job
		rec         models.StateTransition
		refused     []string
		refusedKind = "validation"
	)
	err := m.store.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.LockJob(ctx, jobID)
		if errors.Is(err, ErrNotFound) {
			refused = []string{"Job not found"}
			refusedKind = "not_found"
			return errRejected
		}
		if err != nil {
			return err
		}

		if !IsTransitionAllowed(locked.Status, to) {
			refused = []string{fmt.Sprintf("transition from %s to %s is not allowed",
				StatusLabel(locked.Status), StatusLabel(to))}
			refusedKind = "topology"
			return errRejected
		}

		candidate := locked
		if err := models.ApplyFieldUpdates(&candidate, req.Updates); err != nil {
			refused = []string{err.Error()}
			return errRejected
		}
		// Validators see caller-supplied updates so a transition can carry
		// its own precondition (weather_hold_reason, work_end_time).
		if reasons := runValidators(ctx, to, candidate, tx); len(reasons) > 0 {
			refused = reasons
			return errRejected
		}

		from := locked.Status
		now := m.now().UTC()
		candidate.Status = to
		candidate.LastStateChange = now
		candidate.UpdatedAt = now
		if err := tx.SaveJob(ctx, candidate); err != nil {
			return fmt.Errorf("save job: %w", err)
		}

		rec = models.StateTransition{
			ID:        uuid.New().String(),
			JobID:     jobID,
			FromState: &from,
			ToState:   to,
			Actor:     req.Actor,
			ActorRole: req.ActorRole,
			Source:    req.Source,
			Reason:    req.Reason,
			Notes:     req.Notes,
			Metadata:  req.Metadata,
			CreatedAt: now,
		}
		if err := tx.AppendTransition(ctx, rec); err != nil {
			return fmt.Errorf("append transition: %w", err)
		}
		job = candidate
		return nil
	})
	switch {
	case errors.Is(err, errRejected):
		telemetry.TransitionRejects.WithLabelValues(refusedKind).Inc()
		return TransitionResult{Errors: refused}, nil
	case err != nil:
		return TransitionResult{}, fmt.Errorf("transition job %s to %s: %w", jobID, to, err)
	}

	telemetry.TransitionsTotal.WithLabelValues(string(to)).Inc()

	// Post-commit: automation and event emission are best effort and must
	// never undo the committed state change.
	m.runTriggers(ctx, &job, rec)
	m.emitEvent(ctx, job, rec)

	return TransitionResult{OK: true, Job: job, Record: rec}, nil
}

func (m *Machine) emitEvent(ctx context.Context, job models.Job, rec models.StateTransition) {
	evtType, ok := eventForState[job.Status]
	if !ok {
		return
	}
	snapshot := JobSnapshot{Job: job}
	if client, err := m.store.GetClient(ctx, job.ClientID); err == nil {
		snapshot.Client = &client
	}
	if property, err := m.store.GetProperty(ctx, job.PropertyID); err == nil {
		snapshot.Property = &property
	}
	if job.QuoteID != nil {
		if quote, err := m.store.GetQuote(ctx, *job.QuoteID); err == nil {
			snapshot.Quote = &quote
		}
	}
	evt := Event{
		Type: evtType,
		Job:  snapshot,
		Transition: TransitionSummary{
			From:   rec.FromState,
			To:     rec.ToState,
			Actor:  rec.Actor,
			Reason: rec.Reason,
		},
	}
	if err := m.sink.Publish(ctx, evt); err != nil {
		telemetry.EventPublishErrors.Inc()
		m.log.Error("domain event publish failed",
			zap.String("job_id", job.ID),
			zap.String("event", string(evtType)),
			zap.Error(err))
		return
	}
	telemetry.EventsPublished.Inc()
}

// History returns the job's transition log, newest first.
func (m *Machine) History(ctx context.Context, jobID string) ([]models.StateTransition, error) {
	if _, err := m.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return m.store.History(ctx, jobID)
}

// TransitionOption describes one candidate next state and, when blocked,
// every reason why.
type TransitionOption struct {
	State          models.Status `json:"state"`
	Label          string        `json:"label"`
	Allowed        bool          `json:"allowed"`
	BlockedReasons []string      `json:"blocked_reasons,omitempty"`
}

// TransitionOptions is the answer to "what can this job do right now".
type TransitionOptions struct {
	JobID        string             `json:"job_id"`
	CurrentState models.Status      `json:"current_state"`
	Options      []TransitionOption `json:"options"`
}

// AllowedTransitionsFor re-runs every validator against each topologically
// reachable next state so callers can show which actions are available and
// why the rest are blocked, without attempting a real transition.
func (m *Machine) AllowedTransitionsFor(ctx context.Context, jobID string) (TransitionOptions, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return TransitionOptions{}, err
	}
	out := TransitionOptions{JobID: jobID, CurrentState: job.Status}
	for _, next := range AllowedTransitions(job.Status) {
		reasons := runValidators(ctx, next, job, m.store)
		out.Options = append(out.Options, TransitionOption{
			State:          next,
			Label:          StatusLabel(next),
			Allowed:        len(reasons) == 0,
			BlockedReasons: reasons,
		})
	}
	return out, nil
}
