// Package appointments is the entry point for creating and reading an
// owner's appointments across the private, shared and business collections.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"terminsync/internal/dedupe"
	"terminsync/internal/logging"
	"terminsync/internal/partnersync"
	"terminsync/internal/records"
	"terminsync/internal/retry"
	"terminsync/internal/store"
)

// ErrInvalid is returned for drafts and patches that do not form a valid appointment.
var ErrInvalid = fmt.Errorf("invalid appointment: %w", store.ErrValidation)

// Source tags where an entry of the merged view came from.
type Source string

const (
	SourcePrivate  Source = "private"
	SourceShared   Source = "shared"
	SourceBusiness Source = "business"
)

// Draft is the input of CreateWithPartnerRelevance. A zero End means Start
// plus records.DefaultDuration.
type Draft struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	// ExternalID correlates an appointment confirmed from a business mail.
	ExternalID string `json:"external_id"`
}

func (d Draft) content() (records.Content, error) {
	c := records.Content{
		Title:       strings.TrimSpace(d.Title),
		Start:       d.Start,
		End:         d.End,
		Description: strings.TrimSpace(d.Description),
		Location:    strings.TrimSpace(d.Location),
	}
	if c.End.IsZero() {
		c.End = c.Start.Add(records.DefaultDuration)
	}
	return c, validate(c)
}

// Patch changes the content of an appointment. Nil fields are left as they are.
type Patch struct {
	Title       *string    `json:"title"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
}

func (p Patch) apply(c records.Content) (records.Content, error) {
	if p.Title != nil {
		c.Title = strings.TrimSpace(*p.Title)
	}
	if p.Start != nil {
		// Moving the start keeps the duration unless a new end is given.
		d := c.End.Sub(c.Start)
		c.Start = *p.Start
		c.End = c.Start.Add(d)
	}
	if p.End != nil {
		c.End = *p.End
	}
	if p.Description != nil {
		c.Description = strings.TrimSpace(*p.Description)
	}
	if p.Location != nil {
		c.Location = strings.TrimSpace(*p.Location)
	}
	return c, validate(c)
}

func validate(c records.Content) error {
	switch {
	case c.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalid)
	case c.Start.IsZero():
		return fmt.Errorf("%w: start is required", ErrInvalid)
	case !c.End.After(c.Start):
		return fmt.Errorf("%w: end must be after start", ErrInvalid)
	}
	return nil
}

// Entry is one appointment of the merged view.
type Entry struct {
	Source          Source    `json:"source"`
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Description     string    `json:"description,omitempty"`
	Location        string    `json:"location,omitempty"`
	PartnerRelevant bool      `json:"partner_relevant,omitempty"`
	Synced          bool      `json:"synced,omitempty"`
	ExternalID      string    `json:"external_id,omitempty"`
	Sender          string    `json:"sender,omitempty"`
	// OwnerID is the owner of the source record; for shared entries the partner.
	OwnerID int64 `json:"owner_id,omitempty"`
}

func entryOf(src Source, id string, c records.Content) Entry {
	return Entry{
		Source:      src,
		ID:          id,
		Title:       c.Title,
		Start:       c.Start,
		End:         c.End,
		Description: c.Description,
		Location:    c.Location,
	}
}

// Service is bound to one owner. Business may be nil when the owner has no
// mail ingestion configured.
type Service struct {
	ownerID  int64
	private  store.Collection
	shared   store.Collection
	business store.Collection
	engine   *partnersync.Engine
	sched    partnersync.SchedulerInfo
	policy   retry.Policy
	detector dedupe.Detector
	log      *logging.Logger
}

type Option func(*Service)

func WithPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithScheduler(sched partnersync.SchedulerInfo) Option {
	return func(s *Service) { s.sched = sched }
}

func WithDetector(d dedupe.Detector) Option {
	return func(s *Service) { s.detector = d }
}

func New(engine *partnersync.Engine, business store.Collection, opts ...Option) *Service {
	owner := engine.Owner()
	s := &Service{
		ownerID:  owner.ID,
		private:  owner.Private,
		shared:   owner.Shared,
		business: business,
		engine:   engine,
		policy:   retry.Default(),
		detector: dedupe.New(),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy = s.policy.WithLogger(s.log)
	return s
}

func (s *Service) OwnerID() int64 { return s.ownerID }

// CreateWithPartnerRelevance writes the appointment to the private collection
// and, when relevant, mirrors it right away. Only the private write decides
// success: a failed mirror is logged and left to the next sweep, and the
// shared record is returned only when the mirror succeeded.
func (s *Service) CreateWithPartnerRelevance(ctx context.Context, d Draft, relevant bool) (*records.Appointment, *records.SharedAppointment, error) {
	content, err := d.content()
	if err != nil {
		return nil, nil, err
	}
	a := records.Appointment{
		Content:         content,
		OwnerID:         s.ownerID,
		PartnerRelevant: relevant,
		ExternalID:      strings.TrimSpace(d.ExternalID),
	}

	out := retry.Do(ctx, s.policy, "create appointment", func(ctx context.Context) (*store.Document, error) {
		return s.private.Create(ctx, a.Properties())
	})
	if !out.OK() {
		return nil, nil, fmt.Errorf("create appointment: %w", out.Err)
	}
	a.ID = out.Value.ID
	s.log.Info("appointment created", "owner", s.ownerID, "id", a.ID, "relevant", relevant)

	if !relevant {
		return &a, nil, nil
	}
	synced := s.engine.SyncSingle(ctx, &a, false)
	if !synced.OK() {
		s.partialFailure("create", a.ID, synced)
		return &a, nil, nil
	}
	return &a, synced.Shared, nil
}

// GetAppointments merges the owner's private records, the partners' shared
// records and business records starting in [from, to). Records present in
// more than one collection are listed once, preferring private over business
// over shared. A failing shared or business query only narrows the view.
func (s *Service) GetAppointments(ctx context.Context, from, to time.Time, includeShared bool) ([]Entry, error) {
	q := store.Query{Range: records.StartRange(from, to)}

	privs, err := s.query(ctx, s.private, q)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	index := dedupe.NewIndex(s.detector)
	own := make([]Entry, 0, len(privs))
	for _, doc := range privs {
		a, err := records.DecodeAppointment(doc, s.ownerID)
		if err != nil {
			s.log.Warn("skipping malformed appointment", "owner", s.ownerID, "id", doc.ID, "err", err)
			continue
		}
		e := entryOf(SourcePrivate, a.ID, a.Content)
		e.PartnerRelevant = a.PartnerRelevant
		e.Synced = a.SyncedSharedID != ""
		e.ExternalID = a.ExternalID
		e.OwnerID = s.ownerID
		own = append(own, e)
	}
	entries := s.merge(index, make([]Entry, 0, len(own)), own)

	if s.business != nil {
		docs, err := s.query(ctx, s.business, q)
		if err != nil {
			s.log.Warn("business appointments unavailable", "owner", s.ownerID, "err", err)
		}
		var found []Entry
		for _, doc := range docs {
			b, err := records.DecodeBusiness(doc)
			if err != nil {
				s.log.Warn("skipping malformed business record", "owner", s.ownerID, "id", doc.ID, "err", err)
				continue
			}
			e := entryOf(SourceBusiness, b.ID, b.Content)
			e.ExternalID = b.ExternalID
			e.Sender = b.Sender
			found = append(found, e)
		}
		entries = s.merge(index, entries, found)
	}

	if includeShared {
		docs, err := s.query(ctx, s.shared, q)
		if err != nil {
			s.log.Warn("shared appointments unavailable", "owner", s.ownerID, "err", err)
		}
		var found []Entry
		for _, doc := range docs {
			sh, err := records.DecodeShared(doc)
			if err != nil {
				s.log.Warn("skipping malformed shared record", "owner", s.ownerID, "id", doc.ID, "err", err)
				continue
			}
			// Mirrors of our own records are already listed as private.
			if sh.SourceOwnerID == s.ownerID {
				continue
			}
			e := entryOf(SourceShared, sh.ID, sh.Content)
			e.OwnerID = sh.SourceOwnerID
			found = append(found, e)
		}
		entries = s.merge(index, entries, found)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Start.Equal(entries[j].Start) {
			return entries[i].Start.Before(entries[j].Start)
		}
		return entries[i].Title < entries[j].Title
	})
	return entries, nil
}

// merge appends the entries of one collection that do not duplicate entries
// of an earlier collection and then makes them visible to later ones.
// Duplicates within a collection are kept.
func (s *Service) merge(index *dedupe.Index, entries, found []Entry) []Entry {
	accepted := make([]dedupe.Candidate, 0, len(found))
	for _, e := range found {
		c := dedupe.Candidate{Key: e.ExternalID, Title: e.Title, Start: e.Start}
		if index.Seen(c) {
			s.log.Debug("suppressed duplicate", "owner", s.ownerID, "source", e.Source, "id", e.ID)
			continue
		}
		entries = append(entries, e)
		accepted = append(accepted, c)
	}
	for _, c := range accepted {
		index.Add(c)
	}
	return entries
}

// SetPartnerRelevance toggles the partner flag and mirrors or removes the
// shared copy right away. A failed mirror is left to the next sweep.
func (s *Service) SetPartnerRelevance(ctx context.Context, id string, relevant bool) (*records.Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	changed := a.PartnerRelevant != relevant
	if changed {
		out := retry.Do(ctx, s.policy, "update relevance", func(ctx context.Context) (*store.Document, error) {
			return s.private.Update(ctx, id, records.RelevanceProperties(relevant))
		})
		if !out.OK() {
			return nil, fmt.Errorf("update appointment %s: %w", id, out.Err)
		}
		a.PartnerRelevant = relevant
	}

	switch {
	case relevant:
		if o := s.engine.SyncSingle(ctx, &a, false); !o.OK() {
			s.partialFailure("relevance", id, o)
		}
	case changed || a.SyncedSharedID != "":
		if o := s.engine.RemoveSync(ctx, &a); !o.OK() {
			s.partialFailure("relevance", id, o)
		}
	}
	return &a, nil
}

// Update changes the content of an appointment and re-mirrors it when relevant.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*records.Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := p.apply(a.Content)
	if err != nil {
		return nil, err
	}
	out := retry.Do(ctx, s.policy, "update appointment", func(ctx context.Context) (*store.Document, error) {
		return s.private.Update(ctx, id, records.ContentProperties(content))
	})
	if !out.OK() {
		return nil, fmt.Errorf("update appointment %s: %w", id, out.Err)
	}
	a.Content = content
	a.Legacy = false

	if a.PartnerRelevant {
		if o := s.engine.SyncSingle(ctx, &a, true); !o.OK() {
			s.partialFailure("update", id, o)
		}
	}
	return &a, nil
}

// Delete archives the private record and removes its shared copy.
func (s *Service) Delete(ctx context.Context, id string) error {
	a, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	out := retry.Run(ctx, s.policy, "archive appointment", func(ctx context.Context) error {
		return s.private.Archive(ctx, id)
	})
	if !out.OK() {
		return fmt.Errorf("delete appointment %s: %w", id, out.Err)
	}
	s.log.Info("appointment deleted", "owner", s.ownerID, "id", id)

	if a.PartnerRelevant || a.SyncedSharedID != "" {
		if o := s.engine.RemoveSync(ctx, &a); !o.OK() {
			s.partialFailure("delete", id, o)
		}
	}
	return nil
}

// Get returns a single private appointment.
func (s *Service) Get(ctx context.Context, id string) (*records.Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) SyncStatus(ctx context.Context) (partnersync.Snapshot, error) {
	return s.engine.SyncStatus(ctx, s.sched)
}

// Reconcile runs a sweep for the owner right away.
func (s *Service) Reconcile(ctx context.Context) partnersync.Report {
	return s.engine.ReconcileAll(ctx)
}

func (s *Service) load(ctx context.Context, id string) (records.Appointment, error) {
	out := retry.Do(ctx, s.policy, "get appointment", func(ctx context.Context) (*store.Document, error) {
		return s.private.Get(ctx, id)
	})
	if !out.OK() {
		return records.Appointment{}, fmt.Errorf("load appointment %s: %w", id, out.Err)
	}
	a, err := records.DecodeAppointment(*out.Value, s.ownerID)
	if err != nil {
		return records.Appointment{}, fmt.Errorf("load appointment %s: %w", id, err)
	}
	return a, nil
}

func (s *Service) query(ctx context.Context, c store.Collection, q store.Query) ([]store.Document, error) {
	out := retry.Do(ctx, s.policy, "query "+c.Name(), func(ctx context.Context) ([]store.Document, error) {
		return c.Query(ctx, q)
	})
	return out.Value, out.Err
}

func (s *Service) partialFailure(op, id string, o partnersync.Outcome) {
	level := "transient"
	if o.State == partnersync.FailedPermanent || errors.Is(o.Err, partnersync.ErrNotRelevant) {
		level = "permanent"
	}
	s.log.Warn("partial failure: private write kept, shared copy left for the next sweep",
		"owner", s.ownerID, "op", op, "id", id, "class", level, "err", o.Err)
}
