package partnersync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminsync/internal/records"
	"terminsync/internal/retry"
	"terminsync/internal/store"
)

const ownerID int64 = 42

var tomorrow = time.Now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour + 14*time.Hour)

// faultyCollection counts calls per operation and fails them on demand.
type faultyCollection struct {
	store.Collection

	mu     sync.Mutex
	calls  map[string]int
	queued map[string][]error
	always map[string]error
}

func newFaulty(name string) *faultyCollection {
	return &faultyCollection{
		Collection: store.NewMemory(name),
		calls:      make(map[string]int),
		queued:     make(map[string][]error),
		always:     make(map[string]error),
	}
}

func (f *faultyCollection) failNext(op string, errs ...error) {
	f.mu.Lock()
	f.queued[op] = append(f.queued[op], errs...)
	f.mu.Unlock()
}

func (f *faultyCollection) failAlways(op string, err error) {
	f.mu.Lock()
	f.always[op] = err
	f.mu.Unlock()
}

func (f *faultyCollection) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultyCollection) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *faultyCollection) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if q := f.queued[op]; len(q) > 0 {
		f.queued[op] = q[1:]
		return q[0]
	}
	return f.always[op]
}

func (f *faultyCollection) Create(ctx context.Context, props store.Properties) (*store.Document, error) {
	if err := f.take("create"); err != nil {
		return nil, err
	}
	return f.Collection.Create(ctx, props)
}

func (f *faultyCollection) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := f.take("query"); err != nil {
		return nil, err
	}
	return f.Collection.Query(ctx, q)
}

func (f *faultyCollection) Update(ctx context.Context, id string, props store.Properties) (*store.Document, error) {
	if err := f.take("update"); err != nil {
		return nil, err
	}
	return f.Collection.Update(ctx, id, props)
}

func (f *faultyCollection) Archive(ctx context.Context, id string) error {
	if err := f.take("archive"); err != nil {
		return err
	}
	return f.Collection.Archive(ctx, id)
}

type fixture struct {
	private *faultyCollection
	shared  *faultyCollection
	ledger  *MemoryLedger
	delays  []time.Duration
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		private: newFaulty("private-42"),
		shared:  newFaulty("shared"),
		ledger:  NewMemoryLedger(),
	}
	p := retry.Default()
	p.Rand = func() float64 { return 0.5 }
	p.Sleep = func(_ context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return nil
	}
	f.engine = New(Owner{ID: ownerID, Private: f.private, Shared: f.shared}, WithPolicy(p), WithLedger(f.ledger))
	return f
}

func (f *fixture) addPrivate(t *testing.T, title string, relevant bool) *records.Appointment {
	t.Helper()
	a := records.Appointment{
		Content:         records.Content{Title: title, Start: tomorrow, End: tomorrow.Add(30 * time.Minute)},
		OwnerID:         ownerID,
		PartnerRelevant: relevant,
	}
	doc, err := f.private.Collection.Create(context.Background(), a.Properties())
	require.NoError(t, err)
	a.ID = doc.ID
	return &a
}

func (f *fixture) sharedCopies(t *testing.T, privateID string) []store.Document {
	t.Helper()
	docs, err := f.shared.Collection.Query(context.Background(), store.Eq(records.PropSourcePrivateID, privateID))
	require.NoError(t, err)
	return docs
}

func (f *fixture) reload(t *testing.T, id string) records.Appointment {
	t.Helper()
	doc, err := f.private.Collection.Get(context.Background(), id)
	require.NoError(t, err)
	a, err := records.DecodeAppointment(*doc, ownerID)
	require.NoError(t, err)
	return a
}

func TestSyncSingleCreatesCopyAndBackLink(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)

	out := f.engine.SyncSingle(context.Background(), a, false)

	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, ActionCreated, out.Action)
	copies := f.sharedCopies(t, a.ID)
	require.Len(t, copies, 1)
	assert.Equal(t, "Team Sync", copies[0].Properties[records.PropName])
	assert.Equal(t, copies[0].ID, a.SyncedSharedID)
	assert.Equal(t, copies[0].ID, f.reload(t, a.ID).SyncedSharedID)
	assert.Equal(t, copies[0].ID, out.Shared.ID)
}

func TestSyncSingleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	require.True(t, f.engine.SyncSingle(context.Background(), a, false).OK())

	sharedCalls, privateCalls := f.shared.total(), f.private.total()
	out := f.engine.SyncSingle(context.Background(), a, false)

	assert.True(t, out.OK())
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, sharedCalls, f.shared.total())
	assert.Equal(t, privateCalls, f.private.total())
	assert.Len(t, f.sharedCopies(t, a.ID), 1)
}

func TestSyncSingleReusesCopyWithoutBackLink(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	// A previous attempt created the copy and crashed before the back-link.
	orphan, err := f.shared.Collection.Create(context.Background(), records.SharedFrom(*a).Properties())
	require.NoError(t, err)

	out := f.engine.SyncSingle(context.Background(), a, false)

	require.True(t, out.OK())
	assert.Equal(t, ActionUpdated, out.Action)
	assert.Equal(t, 0, f.shared.count("create"))
	copies := f.sharedCopies(t, a.ID)
	require.Len(t, copies, 1)
	assert.Equal(t, orphan.ID, copies[0].ID)
	assert.Equal(t, orphan.ID, f.reload(t, a.ID).SyncedSharedID)
}

func TestSyncSingleTransientFailureIsBounded(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	f.shared.failAlways("create", store.ErrUnavailable)

	out := f.engine.SyncSingle(context.Background(), a, false)

	assert.False(t, out.OK())
	assert.Equal(t, FailedTransient, out.State)
	assert.ErrorIs(t, out.Err, store.ErrUnavailable)
	assert.Equal(t, 3, f.shared.count("create"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, f.delays)
	assert.Empty(t, a.SyncedSharedID)
}

func TestSyncSinglePermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	f.shared.failAlways("create", store.ErrValidation)

	out := f.engine.SyncSingle(context.Background(), a, false)

	assert.Equal(t, FailedPermanent, out.State)
	assert.Equal(t, 1, f.shared.count("create"))
	assert.Empty(t, f.delays)
}

func TestSyncSingleRecoversFromRateLimit(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	f.shared.failNext("create", store.ErrRateLimited)

	out := f.engine.SyncSingle(context.Background(), a, false)

	assert.True(t, out.OK())
	assert.Equal(t, 2, f.shared.count("create"))
	assert.Equal(t, []time.Duration{time.Second}, f.delays)
	assert.Len(t, f.sharedCopies(t, a.ID), 1)
}

func TestSyncSingleBackLinkFailureLeavesCopyForSweep(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	f.private.failAlways("update", store.ErrTimeout)

	out := f.engine.SyncSingle(context.Background(), a, false)
	assert.Equal(t, FailedTransient, out.State)
	require.NotNil(t, out.Shared)
	assert.Empty(t, f.reload(t, a.ID).SyncedSharedID)

	f.private.failAlways("update", nil)
	r := f.engine.ReconcileAll(context.Background())
	assert.Equal(t, 1, r.Updated)
	assert.Equal(t, 0, r.Created)
	assert.Len(t, f.sharedCopies(t, a.ID), 1)
	assert.Equal(t, out.Shared.ID, f.reload(t, a.ID).SyncedSharedID)
}

func TestSyncSingleRejectsIrrelevant(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Dentist", false)

	out := f.engine.SyncSingle(context.Background(), a, true)

	assert.ErrorIs(t, out.Err, ErrNotRelevant)
	assert.Equal(t, 0, f.shared.total())
}

func TestRemoveSyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	require.True(t, f.engine.SyncSingle(context.Background(), a, false).OK())

	out := f.engine.RemoveSync(context.Background(), a)
	require.True(t, out.OK())
	assert.Equal(t, ActionRemoved, out.Action)
	assert.Empty(t, f.sharedCopies(t, a.ID))
	assert.Empty(t, f.reload(t, a.ID).SyncedSharedID)

	again := f.engine.RemoveSync(context.Background(), a)
	assert.True(t, again.OK())
	assert.Equal(t, ActionNone, again.Action)
}

func TestRemoveSyncToleratesDeletedPrivateRecord(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	require.True(t, f.engine.SyncSingle(context.Background(), a, false).OK())
	require.NoError(t, f.private.Collection.Archive(context.Background(), a.ID))

	out := f.engine.RemoveSync(context.Background(), a)

	assert.True(t, out.OK())
	assert.Empty(t, f.sharedCopies(t, a.ID))
}

func TestReconcileRemovesCopyAfterRevocation(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	require.True(t, f.engine.SyncSingle(context.Background(), a, false).OK())
	require.Len(t, f.sharedCopies(t, a.ID), 1)

	_, err := f.private.Collection.Update(context.Background(), a.ID, records.RelevanceProperties(false))
	require.NoError(t, err)

	r := f.engine.ReconcileAll(context.Background())

	assert.Equal(t, 1, r.Processed)
	assert.Equal(t, 1, r.Removed)
	assert.Zero(t, r.Errors)
	assert.Empty(t, f.sharedCopies(t, a.ID))
	assert.Empty(t, f.reload(t, a.ID).SyncedSharedID)
}

func TestReconcileClearsStaleBackLinkWithoutCountingRemoval(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Dentist", false)
	_, err := f.private.Collection.Update(context.Background(), a.ID, store.Properties{records.PropSyncedSharedID: "gone"})
	require.NoError(t, err)

	r := f.engine.ReconcileAll(context.Background())

	assert.Equal(t, 1, r.Processed)
	assert.Zero(t, r.Removed)
	assert.Zero(t, r.Errors)
	assert.Empty(t, f.reload(t, a.ID).SyncedSharedID)
	assert.Zero(t, f.shared.count("archive"))
}

func TestReconcileCreatesMissingCopiesAndUpdatesEdits(t *testing.T) {
	f := newFixture(t)
	missing := f.addPrivate(t, "Standup", true)
	edited := f.addPrivate(t, "Review", true)
	f.addPrivate(t, "Dentist", false)
	require.True(t, f.engine.SyncSingle(context.Background(), edited, false).OK())

	_, err := f.private.Collection.Update(context.Background(), edited.ID, records.ContentProperties(records.Content{
		Title: "Review (moved)", Start: tomorrow.Add(time.Hour), End: tomorrow.Add(2 * time.Hour), Location: "Room 2",
	}))
	require.NoError(t, err)

	r := f.engine.ReconcileAll(context.Background())

	assert.Equal(t, 3, r.Processed)
	assert.Equal(t, 1, r.Created)
	assert.Equal(t, 1, r.Updated)
	assert.Zero(t, r.Removed)
	assert.Zero(t, r.Errors)

	require.Len(t, f.sharedCopies(t, missing.ID), 1)
	copies := f.sharedCopies(t, edited.ID)
	require.Len(t, copies, 1)
	assert.Equal(t, "Review (moved)", copies[0].Properties[records.PropName])
	assert.Equal(t, "Room 2", copies[0].Properties[records.PropLocation])

	// A second sweep has nothing left to do.
	again := f.engine.ReconcileAll(context.Background())
	assert.Zero(t, again.Created+again.Updated+again.Removed+again.Errors)
}

func TestReconcileCollapsesDuplicateCopies(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	props := records.SharedFrom(*a).Properties()
	for i := 0; i < 3; i++ {
		_, err := f.shared.Collection.Create(context.Background(), props)
		require.NoError(t, err)
	}

	r := f.engine.ReconcileAll(context.Background())

	assert.Equal(t, 2, r.Removed)
	assert.Equal(t, 1, r.Updated)
	copies := f.sharedCopies(t, a.ID)
	require.Len(t, copies, 1)
	assert.Equal(t, copies[0].ID, f.reload(t, a.ID).SyncedSharedID)
}

func TestReconcileArchivesOrphans(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	require.True(t, f.engine.SyncSingle(context.Background(), a, false).OK())
	require.NoError(t, f.private.Collection.Archive(context.Background(), a.ID))

	other := records.SharedAppointment{
		Content:         records.Content{Title: "Someone else", Start: tomorrow, End: tomorrow.Add(time.Hour)},
		SourcePrivateID: "not-ours",
		SourceOwnerID:   7,
	}
	_, err := f.shared.Collection.Create(context.Background(), other.Properties())
	require.NoError(t, err)

	r := f.engine.ReconcileAll(context.Background())

	assert.Equal(t, 1, r.Processed)
	assert.Equal(t, 1, r.Removed)
	assert.Empty(t, f.sharedCopies(t, a.ID))
	assert.Len(t, f.sharedCopies(t, "not-ours"), 1)
}

func TestReconcileCountsFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	first := f.addPrivate(t, "First", true)
	second := f.addPrivate(t, "Second", true)
	_, err := f.private.Collection.Create(context.Background(), store.Properties{records.PropPartnerRelevant: true})
	require.NoError(t, err)
	f.shared.failNext("create", store.ErrValidation)

	r := f.engine.ReconcileAll(context.Background())

	assert.Equal(t, 3, r.Processed)
	assert.Equal(t, 1, r.Created)
	assert.Equal(t, 2, r.Errors)
	assert.Equal(t, 2, r.FailedPermanent)
	assert.Equal(t, 1, len(f.sharedCopies(t, first.ID))+len(f.sharedCopies(t, second.ID)))
}

func TestReconcileNeverFailsWhenListingFails(t *testing.T) {
	f := newFixture(t)
	f.addPrivate(t, "Team Sync", true)
	f.shared.failAlways("query", store.ErrUnavailable)

	r := f.engine.ReconcileAll(context.Background())

	assert.Equal(t, 1, r.Errors)
	assert.Equal(t, 1, r.FailedTransient)
	assert.Zero(t, r.Processed)
	assert.Equal(t, 3, f.shared.count("query"))

	last, err := f.ledger.Last(context.Background(), ownerID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Errors)
}

func TestReconcileIgnoresCancellation(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := f.engine.ReconcileAll(ctx)

	assert.Equal(t, 1, r.Created)
	assert.Len(t, f.sharedCopies(t, a.ID), 1)
}

type fakeScheduler struct{}

func (fakeScheduler) Enabled() bool           { return true }
func (fakeScheduler) Running() bool           { return true }
func (fakeScheduler) Interval() time.Duration { return 2 * time.Hour }

func TestSyncStatus(t *testing.T) {
	f := newFixture(t)
	a := f.addPrivate(t, "Team Sync", true)
	f.addPrivate(t, "Standup", true)
	f.addPrivate(t, "Dentist", false)
	require.True(t, f.engine.SyncSingle(context.Background(), a, false).OK())

	snap, err := f.engine.SyncStatus(context.Background(), fakeScheduler{})
	require.NoError(t, err)
	assert.True(t, snap.Enabled)
	assert.True(t, snap.Running)
	assert.Equal(t, 2*time.Hour, snap.Interval)
	assert.Equal(t, 2, snap.RelevantCount)
	assert.Equal(t, 1, snap.SyncedCount)
	assert.Nil(t, snap.LastRun)

	optedOut := New(Owner{ID: ownerID, Private: f.private, Shared: f.shared, OptedOut: true}, WithLedger(f.ledger))
	snap, err = optedOut.SyncStatus(context.Background(), fakeScheduler{})
	require.NoError(t, err)
	assert.False(t, snap.Enabled)
	assert.True(t, snap.Running)

	f.engine.ReconcileAll(context.Background())
	snap, err = f.engine.SyncStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, snap.Enabled)
	assert.Equal(t, 2, snap.SyncedCount)
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, 1, snap.LastRun.Created)
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, NotRelevant, StateOf(records.Appointment{}))
	assert.Equal(t, PendingSync, StateOf(records.Appointment{PartnerRelevant: true}))
	assert.Equal(t, Synced, StateOf(records.Appointment{PartnerRelevant: true, SyncedSharedID: "s"}))
	assert.Equal(t, PendingRemoval, StateOf(records.Appointment{SyncedSharedID: "s"}))
}
