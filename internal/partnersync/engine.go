// Package partnersync mirrors partner-relevant appointments of one owner's
// private collection into the shared collection.
//
// A private record links to its copy through SyncedToSharedId, the copy links
// back through SourcePrivateId. The two fields are written separately, so a
// crash between them leaves a copy without a back-link; every sync looks the
// copy up by SourcePrivateId before creating one, and ReconcileAll collapses
// whatever duplicates still slip through.
package partnersync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"terminsync/internal/logging"
	"terminsync/internal/records"
	"terminsync/internal/retry"
	"terminsync/internal/store"
)

// Owner binds one owner's private collection to the shared collection.
type Owner struct {
	ID      int64
	Private store.Collection
	Shared  store.Collection
	// OptedOut owners take no part in the periodic sweep.
	OptedOut bool
}

// Engine syncs the appointments of a single owner. It holds no state between
// calls besides its configuration.
type Engine struct {
	owner  Owner
	policy retry.Policy
	ledger RunLedger
	log    *logging.Logger
	now    func() time.Time
}

type Option func(*Engine)

func WithPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithLedger(l RunLedger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithLogger sets the logger of the engine and of its retry policy.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(owner Owner, opts ...Option) *Engine {
	e := &Engine{
		owner:  owner,
		policy: retry.Default(),
		ledger: NewMemoryLedger(),
		log:    logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.policy = e.policy.WithLogger(e.log)
	return e
}

func (e *Engine) Owner() Owner { return e.owner }

// SyncSingle creates or updates the shared copy of a and writes the back-link.
// With a back-link present and force unset it returns Synced without touching
// the store. On success a.SyncedSharedID holds the copy's id.
//
// The call is not cancellable: ctx only carries values.
func (e *Engine) SyncSingle(ctx context.Context, a *records.Appointment, force bool) Outcome {
	if !a.PartnerRelevant {
		return Outcome{State: NotRelevant, Err: ErrNotRelevant}
	}
	if a.SyncedSharedID != "" && !force {
		return Outcome{State: Synced}
	}
	ctx = context.WithoutCancel(ctx)

	found := e.copiesOf(ctx, a.ID)
	if !found.OK() {
		return e.syncFailed("lookup", a, failed(found))
	}

	shared := records.SharedFrom(*a)
	action := ActionCreated
	var doc *store.Document
	if target := canonicalDoc(found.Value, a.SyncedSharedID); target != nil {
		out := retry.Do(ctx, e.policy, "update shared", func(ctx context.Context) (*store.Document, error) {
			return e.owner.Shared.Update(ctx, target.ID, shared.Properties())
		})
		if !out.OK() {
			return e.syncFailed("update", a, failed(out))
		}
		doc, action = out.Value, ActionUpdated
	} else {
		out := retry.Do(ctx, e.policy, "create shared", func(ctx context.Context) (*store.Document, error) {
			return e.owner.Shared.Create(ctx, shared.Properties())
		})
		if !out.OK() {
			return e.syncFailed("create", a, failed(out))
		}
		doc = out.Value
	}
	shared.ID = doc.ID

	if a.SyncedSharedID != doc.ID {
		if out := e.link(ctx, a.ID, doc.ID); !out.OK() {
			o := failed(out)
			o.Action, o.Shared = action, &shared
			return e.syncFailed("link", a, o)
		}
		a.SyncedSharedID = doc.ID
	}

	e.log.Debug("synced", "owner", e.owner.ID, "id", a.ID, "shared", doc.ID, "action", action)
	return Outcome{State: Synced, Action: action, Shared: &shared}
}

// RemoveSync archives every shared copy of a and clears its back-link.
// Copies that are already gone count as removed; a private record that no
// longer exists is not an error either.
func (e *Engine) RemoveSync(ctx context.Context, a *records.Appointment) Outcome {
	ctx = context.WithoutCancel(ctx)
	found := e.copiesOf(ctx, a.ID)
	if !found.OK() {
		return e.syncFailed("lookup", a, failed(found))
	}
	ids := make([]string, 0, len(found.Value))
	for _, doc := range found.Value {
		ids = append(ids, doc.ID)
	}
	return e.remove(ctx, a, ids)
}

func (e *Engine) remove(ctx context.Context, a *records.Appointment, sharedIDs []string) Outcome {
	action := ActionNone
	for _, id := range sharedIDs {
		if out := e.archive(ctx, id); !out.OK() {
			return e.syncFailed("archive", a, failed(out))
		}
		action = ActionRemoved
	}
	if a.SyncedSharedID != "" {
		out := e.link(ctx, a.ID, "")
		if !out.OK() && !errors.Is(out.Err, store.ErrNotFound) {
			o := failed(out)
			o.Action = action
			return e.syncFailed("unlink", a, o)
		}
		a.SyncedSharedID = ""
	}
	return Outcome{State: NotRelevant, Action: action}
}

// ReconcileAll repairs drift between the owner's private records and their
// shared copies. It never fails: every per-record failure is classified and
// counted in the report, and the sweep moves on.
func (e *Engine) ReconcileAll(ctx context.Context) Report {
	ctx = context.WithoutCancel(ctx)
	r := Report{OwnerID: e.owner.ID, StartedAt: e.now().UTC()}

	privs := retry.Do(ctx, e.policy, "list private", func(ctx context.Context) ([]store.Document, error) {
		return e.owner.Private.Query(ctx, store.Query{})
	})
	if !privs.OK() {
		r.fail(failedState(privs.Status))
		e.log.Error("reconcile aborted: listing private records failed", "owner", e.owner.ID, "err", privs.Err)
		return e.finish(ctx, r)
	}
	shared := retry.Do(ctx, e.policy, "list shared", func(ctx context.Context) ([]store.Document, error) {
		return e.owner.Shared.Query(ctx, store.Eq(records.PropSourceUserID, e.owner.ID))
	})
	if !shared.OK() {
		r.fail(failedState(shared.Status))
		e.log.Error("reconcile aborted: listing shared records failed", "owner", e.owner.ID, "err", shared.Err)
		return e.finish(ctx, r)
	}

	known := make(map[string]bool, len(privs.Value))
	appts := make([]records.Appointment, 0, len(privs.Value))
	for _, doc := range privs.Value {
		known[doc.ID] = true
		a, err := records.DecodeAppointment(doc, e.owner.ID)
		if err != nil {
			r.Processed++
			r.fail(FailedPermanent)
			e.log.Warn("skipping malformed private record", "owner", e.owner.ID, "id", doc.ID, "err", err)
			continue
		}
		appts = append(appts, a)
	}

	copies := make(map[string][]records.SharedAppointment)
	for _, doc := range shared.Value {
		s, err := records.DecodeShared(doc)
		if err != nil {
			r.fail(FailedPermanent)
			e.log.Warn("skipping malformed shared record", "owner", e.owner.ID, "id", doc.ID, "err", err)
			continue
		}
		copies[s.SourcePrivateID] = append(copies[s.SourcePrivateID], s)
	}

	for i := range appts {
		r.Processed++
		e.reconcileOne(ctx, &appts[i], copies[appts[i].ID], &r)
	}

	orphans := make([]string, 0)
	for source := range copies {
		if !known[source] {
			orphans = append(orphans, source)
		}
	}
	sort.Strings(orphans)
	for _, source := range orphans {
		for _, s := range copies[source] {
			r.Processed++
			if out := e.archive(ctx, s.ID); !out.OK() {
				r.fail(failedState(out.Status))
				e.log.Warn("removing orphaned copy failed", "owner", e.owner.ID, "shared", s.ID, "source", source, "err", out.Err)
				continue
			}
			r.Removed++
		}
	}

	return e.finish(ctx, r)
}

func (e *Engine) reconcileOne(ctx context.Context, a *records.Appointment, copies []records.SharedAppointment, r *Report) {
	switch {
	case a.PartnerRelevant && len(copies) == 0:
		out := e.SyncSingle(ctx, a, true)
		if !out.OK() {
			r.fail(out.State)
			return
		}
		if out.Action == ActionCreated {
			r.Created++
		} else {
			r.Updated++
		}

	case a.PartnerRelevant:
		e.repair(ctx, a, copies, r)

	case len(copies) > 0 || a.SyncedSharedID != "":
		ids := make([]string, 0, len(copies))
		for _, s := range copies {
			ids = append(ids, s.ID)
		}
		out := e.remove(ctx, a, ids)
		if !out.OK() {
			r.fail(out.State)
			return
		}
		if out.Action == ActionRemoved {
			r.Removed++
		}
	}
}

// repair keeps one copy of a relevant appointment, archives the rest and
// brings the kept copy and the back-link up to date.
func (e *Engine) repair(ctx context.Context, a *records.Appointment, copies []records.SharedAppointment, r *Report) {
	keep := 0
	for i, s := range copies {
		if s.ID == a.SyncedSharedID {
			keep = i
			break
		}
	}
	kept := copies[keep]

	for i, s := range copies {
		if i == keep {
			continue
		}
		if out := e.archive(ctx, s.ID); !out.OK() {
			r.fail(failedState(out.Status))
			e.log.Warn("removing duplicate copy failed", "owner", e.owner.ID, "id", a.ID, "shared", s.ID, "err", out.Err)
			continue
		}
		e.log.Info("removed duplicate copy", "owner", e.owner.ID, "id", a.ID, "shared", s.ID)
		r.Removed++
	}

	changed := false
	if !kept.Content.Equal(a.Content) {
		shared := records.SharedFrom(*a)
		out := retry.Do(ctx, e.policy, "update shared", func(ctx context.Context) (*store.Document, error) {
			return e.owner.Shared.Update(ctx, kept.ID, shared.Properties())
		})
		if !out.OK() {
			r.fail(e.syncFailed("update", a, failed(out)).State)
			return
		}
		changed = true
	}
	if a.SyncedSharedID != kept.ID {
		if out := e.link(ctx, a.ID, kept.ID); !out.OK() {
			r.fail(e.syncFailed("link", a, failed(out)).State)
			return
		}
		a.SyncedSharedID = kept.ID
		changed = true
	}
	if changed {
		r.Updated++
	}
}

// SyncStatus counts the owner's relevant and synced records and attaches the
// last sweep report. sched may be nil.
func (e *Engine) SyncStatus(ctx context.Context, sched SchedulerInfo) (Snapshot, error) {
	var snap Snapshot
	if sched != nil {
		snap.Enabled = sched.Enabled() && !e.owner.OptedOut
		snap.Running = sched.Running()
		snap.Interval = sched.Interval()
	}

	docs, err := e.owner.Private.Query(ctx, store.Eq(records.PropPartnerRelevant, true))
	if err != nil {
		return snap, fmt.Errorf("count relevant appointments: %w", err)
	}
	for _, doc := range docs {
		a, err := records.DecodeAppointment(doc, e.owner.ID)
		if err != nil || !a.PartnerRelevant {
			continue
		}
		snap.RelevantCount++
		if a.SyncedSharedID != "" {
			snap.SyncedCount++
		}
	}

	last, err := e.ledger.Last(ctx, e.owner.ID)
	if err != nil {
		e.log.Warn("reading last sweep failed", "owner", e.owner.ID, "err", err)
	}
	snap.LastRun = last
	return snap, nil
}

func (e *Engine) copiesOf(ctx context.Context, privateID string) retry.Outcome[[]store.Document] {
	return retry.Do(ctx, e.policy, "query shared", func(ctx context.Context) ([]store.Document, error) {
		return e.owner.Shared.Query(ctx, store.Eq(records.PropSourcePrivateID, privateID))
	})
}

func (e *Engine) link(ctx context.Context, privateID, sharedID string) retry.Outcome[*store.Document] {
	return retry.Do(ctx, e.policy, "write back-link", func(ctx context.Context) (*store.Document, error) {
		return e.owner.Private.Update(ctx, privateID, records.LinkProperties(sharedID))
	})
}

func (e *Engine) archive(ctx context.Context, sharedID string) retry.Outcome[struct{}] {
	return retry.Run(ctx, e.policy, "archive shared", func(ctx context.Context) error {
		err := e.owner.Shared.Archive(ctx, sharedID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
}

func (e *Engine) syncFailed(step string, a *records.Appointment, o Outcome) Outcome {
	e.log.Warn("sync failed", "owner", e.owner.ID, "id", a.ID, "step", step, "state", o.State, "err", o.Err)
	return o
}

func (e *Engine) finish(ctx context.Context, r Report) Report {
	r.FinishedAt = e.now().UTC()
	if err := e.ledger.Record(ctx, r); err != nil {
		e.log.Warn("recording sweep report failed", "owner", e.owner.ID, "err", err)
	}
	e.log.Info("reconcile finished", "owner", r.OwnerID, "processed", r.Processed, "created", r.Created,
		"updated", r.Updated, "removed", r.Removed, "errors", r.Errors, "elapsed", r.Duration().Round(time.Millisecond))
	return r
}

// canonicalDoc prefers the copy the back-link points at, then the oldest.
func canonicalDoc(docs []store.Document, linked string) *store.Document {
	if len(docs) == 0 {
		return nil
	}
	for i := range docs {
		if docs[i].ID == linked {
			return &docs[i]
		}
	}
	return &docs[0]
}
