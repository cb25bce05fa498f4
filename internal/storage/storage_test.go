package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"terminsync/internal/config"
	"terminsync/internal/models"
	"terminsync/internal/partnersync"
	"terminsync/internal/records"
	"terminsync/internal/store"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := ConnectMemoryDatabase()
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestDocumentCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	c := NewDocumentCollection(setupDB(t), "private-1")

	doc, err := c.Create(ctx, store.Properties{
		records.PropName:            "Team Sync",
		records.PropPartnerRelevant: true,
		records.PropDescription:     nil,
	})
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)
	assert.NotContains(t, doc.Properties, records.PropDescription)

	got, err := c.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Team Sync", got.Properties[records.PropName])
	assert.Equal(t, true, got.Properties[records.PropPartnerRelevant])

	updated, err := c.Update(ctx, doc.ID, store.Properties{
		records.PropSyncedSharedID:  "s-1",
		records.PropPartnerRelevant: nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "s-1", updated.Properties[records.PropSyncedSharedID])
	assert.NotContains(t, updated.Properties, records.PropPartnerRelevant)

	require.NoError(t, c.Archive(ctx, doc.ID))
	_, err = c.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, c.Archive(ctx, doc.ID), store.ErrNotFound)
	_, err = c.Update(ctx, doc.ID, store.Properties{records.PropName: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDocumentCollectionConcurrentUpdatesKeepBothFields(t *testing.T) {
	ctx := context.Background()
	c := NewDocumentCollection(setupDB(t), "private-1")

	for i := 0; i < 20; i++ {
		doc, err := c.Create(ctx, store.Properties{records.PropName: "Team Sync"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = c.Update(ctx, doc.ID, store.Properties{records.PropSyncedSharedID: "s-1"})
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = c.Update(ctx, doc.ID, store.Properties{records.PropName: "Team Sync (moved)"})
		}()
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		got, err := c.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "s-1", got.Properties[records.PropSyncedSharedID])
		assert.Equal(t, "Team Sync (moved)", got.Properties[records.PropName])
	}
}

func TestDocumentCollectionQuery(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	shared := NewDocumentCollection(db, "shared")
	other := NewDocumentCollection(db, "private-2")
	start := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

	mk := func(c *DocumentCollection, source string, owner int64, at time.Time) {
		s := records.SharedAppointment{
			Content:         records.Content{Title: "Sync " + source, Start: at, End: at.Add(time.Hour)},
			SourcePrivateID: source,
			SourceOwnerID:   owner,
		}
		_, err := c.Create(ctx, s.Properties())
		require.NoError(t, err)
	}
	mk(shared, "p-1", 1, start)
	mk(shared, "p-2", 1, start.Add(48*time.Hour))
	mk(shared, "p-3", 2, start)
	mk(other, "p-1", 1, start)

	docs, err := shared.Query(ctx, store.Eq(records.PropSourcePrivateID, "p-1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "shared", docs[0].Collection)

	docs, err = shared.Query(ctx, store.Eq(records.PropSourceUserID, int64(1)))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = shared.Query(ctx, store.Query{Range: records.StartRange(start, start.Add(24*time.Hour))})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	decoded, err := records.DecodeShared(docs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), decoded.SourceOwnerID)
	assert.True(t, decoded.Start.Equal(start))
}

func TestDocumentCollectionServesEngine(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	private := NewDocumentCollection(db, "private-1")
	shared := NewDocumentCollection(db, "shared")
	engine := partnersync.New(partnersync.Owner{ID: 1, Private: private, Shared: shared})

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	a := records.Appointment{
		Content:         records.Content{Title: "Team Sync", Start: start, End: start.Add(30 * time.Minute)},
		OwnerID:         1,
		PartnerRelevant: true,
	}
	doc, err := private.Create(ctx, a.Properties())
	require.NoError(t, err)

	r := engine.ReconcileAll(ctx)
	assert.Equal(t, 1, r.Created)
	assert.Zero(t, r.Errors)

	copies, err := shared.Query(ctx, store.Eq(records.PropSourcePrivateID, doc.ID))
	require.NoError(t, err)
	require.Len(t, copies, 1)

	again := engine.ReconcileAll(ctx)
	assert.Zero(t, again.Created+again.Updated+again.Removed+again.Errors)
}

func TestRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ledger := NewRedisLedger(client, time.Hour)
	ctx := context.Background()

	last, err := ledger.Last(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, last)

	started := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Record(ctx, partnersync.Report{
		OwnerID: 7, Processed: 3, Created: 1, Removed: 1,
		StartedAt: started, FinishedAt: started.Add(2 * time.Second),
	}))

	last, err = ledger.Last(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Processed)
	assert.Equal(t, 2*time.Second, last.Duration())

	mr.FastForward(2 * time.Hour)
	last, err = ledger.Last(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := InitRedis(context.Background(), config.Redis{Addr: mr.Addr()})
	require.NoError(t, err)
	client.Close()

	mr.Close()
	_, err = InitRedis(context.Background(), config.Redis{Addr: mr.Addr()})
	assert.Error(t, err)
}

func TestOwnerDefaultCollections(t *testing.T) {
	db := setupDB(t)
	o := models.Owner{Name: "Anna", Email: "anna@example.com", PasswordHash: "x", PrivateCollection: "pending"}
	require.NoError(t, db.Create(&o).Error)
	o.PrivateCollection = ""
	o.DefaultCollections()
	assert.Equal(t, "private-1", o.PrivateCollection)
	assert.Equal(t, "business-1", o.BusinessCollection)
}
