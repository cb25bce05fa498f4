// Package store describes the document collections the appointment service
// talks to. A collection holds schema'd documents whose properties are a flat
// name -> value map, the same shape the hosted document service returns.
package store

import (
	"context"
	"time"
)

// Properties are the raw, loosely typed fields of a document. They never leave
// the records package undecoded.
type Properties map[string]any

// Clone returns a shallow copy.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Document is one record of a collection.
type Document struct {
	ID         string
	Collection string
	Properties Properties
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Condition is a single equality predicate on a property.
type Condition struct {
	Field string
	Value any
}

// TimeRange selects documents whose Field (or Fallback when Field is empty)
// lies in [From, To). A zero bound is open.
type TimeRange struct {
	Field    string
	Fallback string
	From     time.Time
	To       time.Time
}

// Query filters documents of a collection. Archived documents are never returned.
type Query struct {
	Where []Condition
	Range *TimeRange
}

// Eq is shorthand for a one-condition query.
func Eq(field string, value any) Query {
	return Query{Where: []Condition{{Field: field, Value: value}}}
}

// Collection is the generic create/query/update/archive adapter over one
// collection of the document service.
type Collection interface {
	// Name identifies the collection for logging.
	Name() string
	Create(ctx context.Context, props Properties) (*Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Update merges props into the stored properties. A nil value clears the property.
	Update(ctx context.Context, id string, props Properties) (*Document, error)
	// Archive hides the document from Get and Query. Archiving a missing
	// document returns ErrNotFound.
	Archive(ctx context.Context, id string) error
}
