// Package lifecycle implements the job state machine: the static transition
// table, per-state validators, the transition orchestrator, post-commit
// automation triggers, and the audit/history read path.
package lifecycle

import "field-service-backend/internal/models"

// transitionTable is the single source of truth for lifecycle topology.
// Validators layer business preconditions on top; nothing else decides
// which edges exist.
var transitionTable = map[models.Status][]models.Status{
	models.StatusDraft: {
		models.StatusNeedsPermit, models.StatusWaitingOnClient,
		models.StatusScheduled, models.StatusCancelled,
	},
	models.StatusNeedsPermit: {
		models.StatusScheduled, models.StatusWaitingOnClient,
		models.StatusCancelled,
	},
	models.StatusWaitingOnClient: {
		models.StatusScheduled, models.StatusNeedsPermit,
		models.StatusDraft, models.StatusCancelled,
	},
	models.StatusScheduled: {
		models.StatusEnRoute, models.StatusInProgress,
		models.StatusWeatherHold, models.StatusWaitingOnClient,
		models.StatusCancelled,
	},
	models.StatusEnRoute: {
		models.StatusOnSite, models.StatusScheduled,
		models.StatusWeatherHold, models.StatusCancelled,
	},
	models.StatusOnSite: {
		models.StatusInProgress, models.StatusScheduled,
		models.StatusWeatherHold, models.StatusCancelled,
	},
	models.StatusWeatherHold: {
		models.StatusScheduled, models.StatusCancelled,
	},
	models.StatusInProgress: {
		models.StatusCompleted, models.StatusWeatherHold,
		models.StatusCancelled,
	},
	// A completed job is past the point of operational cancellation;
	// write-offs happen from invoiced.
	models.StatusCompleted: {
		models.StatusInvoiced, models.StatusInProgress,
	},
	models.StatusInvoiced: {
		models.StatusPaid, models.StatusCancelled,
	},
	models.StatusPaid:      {},
	models.StatusCancelled: {},
}

// statusLabels are the human-readable state names surfaced in errors and
// the allowed-transitions endpoint.
var statusLabels = map[models.Status]string{
	models.StatusDraft:           "Draft",
	models.StatusNeedsPermit:     "Needs Permit",
	models.StatusWaitingOnClient: "Waiting on Client",
	models.StatusScheduled:       "Scheduled",
	models.StatusEnRoute:         "En Route",
	models.StatusOnSite:          "On Site",
	models.StatusWeatherHold:     "Weather Hold",
	models.StatusInProgress:      "In Progress",
	models.StatusCompleted:       "Completed",
	models.StatusInvoiced:        "Invoiced",
	models.StatusPaid:            "Paid",
	models.StatusCancelled:       "Cancelled",
}

// IsTransitionAllowed reports whether the topology permits from -> to.
func IsTransitionAllowed(from, to models.Status) bool {
	for _, next := range transitionTable[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the states reachable from the given state in
// one step. The returned slice is a copy; callers may mutate it.
func AllowedTransitions(from models.Status) []models.Status {
	next := transitionTable[from]
	out := make([]models.Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether the state has no outgoing transitions.
func IsTerminal(s models.Status) bool {
	return len(transitionTable[s]) == 0
}

// StatusLabel returns the display name for a state, falling back to the
// raw value for anything unknown.
func StatusLabel(s models.Status) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}
