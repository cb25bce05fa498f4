// Package owners keeps owner accounts and hands out per-owner workspaces:
// the engine and appointment service bound to one owner's collections.
package owners

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"

	"terminsync/internal/appointments"
	"terminsync/internal/logging"
	"terminsync/internal/models"
	"terminsync/internal/partnersync"
	"terminsync/internal/retry"
	"terminsync/internal/store"
)

var (
	ErrUnknownOwner = errors.New("unknown owner")
	ErrEmailTaken   = errors.New("email already registered")
)

// Backend opens collections of the document store by name.
type Backend interface {
	Collection(name string) store.Collection
}

type BackendFunc func(name string) store.Collection

func (f BackendFunc) Collection(name string) store.Collection { return f(name) }

// Workspace is everything an operation needs to act for one owner.
type Workspace struct {
	Owner        models.Owner
	Engine       *partnersync.Engine
	Appointments *appointments.Service
}

func (w *Workspace) OwnerID() int64 { return int64(w.Owner.ID) }

// Builder assembles workspaces. Scheduler may be set after construction,
// before the first workspace is built.
type Builder struct {
	Backend          Backend
	SharedCollection string
	Ledger           partnersync.RunLedger
	Policy           retry.Policy
	Logger           *logging.Logger
	Scheduler        partnersync.SchedulerInfo
}

func (b *Builder) Build(o models.Owner) *Workspace {
	log := b.Logger
	if log == nil {
		log = logging.Nop()
	}
	policy := b.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	o.DefaultCollections()

	engineOpts := []partnersync.Option{partnersync.WithPolicy(policy), partnersync.WithLogger(log)}
	if b.Ledger != nil {
		engineOpts = append(engineOpts, partnersync.WithLedger(b.Ledger))
	}
	engine := partnersync.New(partnersync.Owner{
		ID:       int64(o.ID),
		Private:  b.Backend.Collection(o.PrivateCollection),
		Shared:   b.Backend.Collection(b.SharedCollection),
		OptedOut: !o.SyncEnabled,
	}, engineOpts...)

	opts := []appointments.Option{appointments.WithPolicy(policy), appointments.WithLogger(log)}
	if b.Scheduler != nil {
		opts = append(opts, appointments.WithScheduler(b.Scheduler))
	}
	var business store.Collection
	if o.BusinessCollection != "" {
		business = b.Backend.Collection(o.BusinessCollection)
	}
	return &Workspace{
		Owner:        o,
		Engine:       engine,
		Appointments: appointments.New(engine, business, opts...),
	}
}

// Registry caches workspaces per owner with a size bound and a TTL.
type Registry struct {
	db      *gorm.DB
	builder *Builder
	cache   *expirable.LRU[int64, *Workspace]
}

func NewRegistry(db *gorm.DB, builder *Builder, size int, ttl time.Duration) *Registry {
	if size <= 0 {
		size = 128
	}
	return &Registry{
		db:      db,
		builder: builder,
		cache:   expirable.NewLRU[int64, *Workspace](size, nil, ttl),
	}
}

// Workspace returns the cached workspace of ownerID or builds one.
func (r *Registry) Workspace(ctx context.Context, ownerID int64) (*Workspace, error) {
	if ws, ok := r.cache.Get(ownerID); ok {
		return ws, nil
	}
	o, err := r.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ws := r.builder.Build(*o)
	r.cache.Add(ownerID, ws)
	return ws, nil
}

// Invalidate drops the cached workspace, e.g. after the owner changed.
func (r *Registry) Invalidate(ownerID int64) {
	r.cache.Remove(ownerID)
}

// Cached is the number of cached workspaces.
func (r *Registry) Cached() int { return r.cache.Len() }

func (r *Registry) Get(ctx context.Context, ownerID int64) (*models.Owner, error) {
	var o models.Owner
	if err := r.db.WithContext(ctx).First(&o, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownOwner, ownerID)
		}
		return nil, fmt.Errorf("load owner %d: %w", ownerID, err)
	}
	return &o, nil
}

func (r *Registry) FindByEmail(ctx context.Context, email string) (*models.Owner, error) {
	var o models.Owner
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownOwner
		}
		return nil, err
	}
	return &o, nil
}

// Create stores a new owner and assigns default collections.
func (r *Registry) Create(ctx context.Context, o *models.Owner) error {
	o.Email = strings.ToLower(strings.TrimSpace(o.Email))
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Owner{}).Where("email = ?", o.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrEmailTaken
		}
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		if o.PrivateCollection != "" && o.BusinessCollection != "" {
			return nil
		}
		// Default names need the id.
		o.DefaultCollections()
		return tx.Model(o).Updates(map[string]any{
			"private_collection":  o.PrivateCollection,
			"business_collection": o.BusinessCollection,
		}).Error
	})
}

// SetSyncEnabled switches the periodic sweep for one owner.
func (r *Registry) SetSyncEnabled(ctx context.Context, ownerID int64, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&models.Owner{}).Where("id = ?", ownerID).Update("sync_enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownOwner, ownerID)
	}
	r.Invalidate(ownerID)
	return nil
}

// List returns all owners ordered by id.
func (r *Registry) List(ctx context.Context) ([]models.Owner, error) {
	var list []models.Owner
	if err := r.db.WithContext(ctx).Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// SyncEnabled returns the ids of owners taking part in the periodic sweep.
func (r *Registry) SyncEnabled(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Owner{}).
		Where("sync_enabled = ?", true).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}
