package partnersync

import (
	"errors"

	"terminsync/internal/records"
	"terminsync/internal/retry"
)

// ErrNotRelevant is returned by SyncSingle for appointments that are not
// flagged partner-relevant.
var ErrNotRelevant = errors.New("appointment is not partner relevant")

// State is the sync state of one private appointment. It is not persisted;
// it is derived from PartnerRelevant, the back-link and the last outcome.
type State int

const (
	NotRelevant State = iota
	PendingSync
	Synced
	PendingRemoval
	FailedTransient
	FailedPermanent
)

func (s State) String() string {
	switch s {
	case NotRelevant:
		return "not_relevant"
	case PendingSync:
		return "pending_sync"
	case Synced:
		return "synced"
	case PendingRemoval:
		return "pending_removal"
	case FailedTransient:
		return "failed_transient"
	case FailedPermanent:
		return "failed_permanent"
	}
	return "unknown"
}

// StateOf derives the resting state of a decoded appointment.
func StateOf(a records.Appointment) State {
	switch {
	case a.PartnerRelevant && a.SyncedSharedID != "":
		return Synced
	case a.PartnerRelevant:
		return PendingSync
	case a.SyncedSharedID != "":
		return PendingRemoval
	}
	return NotRelevant
}

// Action is the store mutation a sync call ended up performing.
type Action int

const (
	ActionNone Action = iota
	ActionCreated
	ActionUpdated
	ActionRemoved
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	case ActionRemoved:
		return "removed"
	}
	return "none"
}

// Outcome reports a SyncSingle or RemoveSync call.
type Outcome struct {
	State  State
	Action Action
	// Shared is the shared copy written by a successful sync. It is nil for
	// short-circuited syncs and removals.
	Shared *records.SharedAppointment
	Err    error
}

// OK reports confirmed success.
func (o Outcome) OK() bool {
	return o.Err == nil && (o.State == Synced || o.State == NotRelevant)
}

func failed[T any](out retry.Outcome[T]) Outcome {
	return Outcome{State: failedState(out.Status), Err: out.Err}
}

func failedState(s retry.Status) State {
	if s == retry.FailedTransient {
		return FailedTransient
	}
	return FailedPermanent
}
