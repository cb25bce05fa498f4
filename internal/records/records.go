// Package records decodes and encodes appointment documents. It is the only
// place that knows the property names of the private, shared and business
// collections; everything past it works with typed structs.
package records

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"terminsync/internal/store"
)

// Property names of the document collections.
const (
	PropName            = "Name"
	PropStart           = "Startdatum"
	PropEnd             = "Endedatum"
	PropLegacyDate      = "Datum"
	PropDescription     = "Beschreibung"
	PropLocation        = "Ort"
	PropPartnerRelevant = "PartnerRelevant"
	PropSyncedSharedID  = "SyncedToSharedId"
	PropSourcePrivateID = "SourcePrivateId"
	PropSourceUserID    = "SourceUserId"
	PropExternalID      = "ExternalEventId"
	PropSender          = "Absender"
)

// DefaultDuration is applied to legacy records that only carry Datum and to
// drafts without an end.
const DefaultDuration = time.Hour

// ErrMalformed is returned for documents that cannot be decoded into a record.
var ErrMalformed = errors.New("malformed record")

// Content holds the fields mirrored from a private appointment into its shared copy.
type Content struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// Equal compares content the way it is stored: timestamps at second precision.
func (c Content) Equal(o Content) bool {
	return c.Title == o.Title &&
		c.Start.Truncate(time.Second).Equal(o.Start.Truncate(time.Second)) &&
		c.End.Truncate(time.Second).Equal(o.End.Truncate(time.Second)) &&
		c.Description == o.Description &&
		c.Location == o.Location
}

func (c Content) properties() store.Properties {
	return store.Properties{
		PropName:        c.Title,
		PropStart:       store.FormatTime(c.Start),
		PropEnd:         store.FormatTime(c.End),
		PropDescription: optional(c.Description),
		PropLocation:    optional(c.Location),
	}
}

// Appointment is a record of an owner's private collection.
type Appointment struct {
	ID string
	Content
	OwnerID         int64
	PartnerRelevant bool
	SyncedSharedID  string
	ExternalID      string
	// Legacy is set when the record only had the single Datum timestamp.
	Legacy bool
}

// SharedAppointment is a record of the shared collection, always derived from
// exactly one private appointment.
type SharedAppointment struct {
	ID string
	Content
	SourcePrivateID string
	SourceOwnerID   int64
}

// BusinessAppointment is an email-ingested record.
type BusinessAppointment struct {
	ID string
	Content
	ExternalID string
	Sender     string
}

// DecodeAppointment validates a private document.
func DecodeAppointment(doc store.Document, ownerID int64) (Appointment, error) {
	content, legacy, err := decodeContent(doc)
	if err != nil {
		return Appointment{}, err
	}
	return Appointment{
		ID:              doc.ID,
		Content:         content,
		OwnerID:         ownerID,
		PartnerRelevant: boolValue(doc.Properties[PropPartnerRelevant]),
		SyncedSharedID:  stringValue(doc.Properties[PropSyncedSharedID]),
		ExternalID:      stringValue(doc.Properties[PropExternalID]),
		Legacy:          legacy,
	}, nil
}

// Properties encodes a private appointment for create. Legacy records are
// written back in the Startdatum/Endedatum shape.
func (a Appointment) Properties() store.Properties {
	props := a.Content.properties()
	props[PropPartnerRelevant] = a.PartnerRelevant
	props[PropSyncedSharedID] = optional(a.SyncedSharedID)
	props[PropExternalID] = optional(a.ExternalID)
	return props
}

// LinkProperties is the back-link update written after a successful sync.
func LinkProperties(sharedID string) store.Properties {
	return store.Properties{PropSyncedSharedID: optional(sharedID)}
}

// RelevanceProperties toggles the partner flag. The back-link is cleared
// separately, after the shared copy is gone.
func RelevanceProperties(relevant bool) store.Properties {
	return store.Properties{PropPartnerRelevant: relevant}
}

// ContentProperties is the update written when content changes.
func ContentProperties(c Content) store.Properties {
	props := c.properties()
	// Migrates legacy records to the Startdatum/Endedatum shape.
	props[PropLegacyDate] = nil
	return props
}

// DecodeShared validates a shared document.
func DecodeShared(doc store.Document) (SharedAppointment, error) {
	content, _, err := decodeContent(doc)
	if err != nil {
		return SharedAppointment{}, err
	}
	source := stringValue(doc.Properties[PropSourcePrivateID])
	if source == "" {
		return SharedAppointment{}, fmt.Errorf("%w: shared %s has no %s", ErrMalformed, doc.ID, PropSourcePrivateID)
	}
	owner, ok := store.Number(doc.Properties[PropSourceUserID])
	if !ok {
		return SharedAppointment{}, fmt.Errorf("%w: shared %s has no numeric %s", ErrMalformed, doc.ID, PropSourceUserID)
	}
	return SharedAppointment{
		ID:              doc.ID,
		Content:         content,
		SourcePrivateID: source,
		SourceOwnerID:   int64(owner),
	}, nil
}

// SharedFrom derives the shared copy of a private appointment.
func SharedFrom(a Appointment) SharedAppointment {
	return SharedAppointment{
		Content:         a.Content,
		SourcePrivateID: a.ID,
		SourceOwnerID:   a.OwnerID,
	}
}

// Properties encodes a shared appointment for create.
func (s SharedAppointment) Properties() store.Properties {
	props := s.Content.properties()
	props[PropSourcePrivateID] = s.SourcePrivateID
	props[PropSourceUserID] = s.SourceOwnerID
	return props
}

// DecodeBusiness validates a business document.
func DecodeBusiness(doc store.Document) (BusinessAppointment, error) {
	content, _, err := decodeContent(doc)
	if err != nil {
		return BusinessAppointment{}, err
	}
	return BusinessAppointment{
		ID:         doc.ID,
		Content:    content,
		ExternalID: stringValue(doc.Properties[PropExternalID]),
		Sender:     stringValue(doc.Properties[PropSender]),
	}, nil
}

// StartRange selects documents by start, falling back to the legacy date.
func StartRange(from, to time.Time) *store.TimeRange {
	return &store.TimeRange{Field: PropStart, Fallback: PropLegacyDate, From: from, To: to}
}

func decodeContent(doc store.Document) (Content, bool, error) {
	p := doc.Properties
	title := strings.TrimSpace(stringValue(p[PropName]))
	if title == "" {
		return Content{}, false, fmt.Errorf("%w: %s has no %s", ErrMalformed, doc.ID, PropName)
	}

	legacy := false
	start, ok := store.TimeValue(p[PropStart])
	if !ok {
		start, ok = store.TimeValue(p[PropLegacyDate])
		if !ok {
			return Content{}, false, fmt.Errorf("%w: %s has no start", ErrMalformed, doc.ID)
		}
		legacy = true
	}

	end, ok := store.TimeValue(p[PropEnd])
	if !ok || legacy {
		end = start.Add(DefaultDuration)
	}
	if end.Before(start) {
		return Content{}, false, fmt.Errorf("%w: %s ends before it starts", ErrMalformed, doc.ID)
	}

	return Content{
		Title:       title,
		Start:       start,
		End:         end,
		Description: stringValue(p[PropDescription]),
		Location:    stringValue(p[PropLocation]),
	}, legacy, nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int, int64:
		return fmt.Sprint(x)
	}
	return ""
}

func boolValue(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	}
	if f, ok := store.Number(v); ok {
		return f != 0
	}
	return false
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
