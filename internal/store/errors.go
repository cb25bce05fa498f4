package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrValidation   = errors.New("document validation failed")
	ErrUnauthorized = errors.New("store unauthorized")
	ErrRateLimited  = errors.New("store rate limited")
	ErrUnavailable  = errors.New("store unavailable")
	ErrTimeout      = errors.New("store timeout")
)

// OpError attaches the collection and operation to a store failure.
type OpError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *OpError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, collection, id string, err error) error {
	return &OpError{Op: op, Collection: collection, ID: id, Err: err}
}

// Wrap is used by the adapters outside this package.
func Wrap(op, collection, id string, err error) error {
	if err == nil {
		return nil
	}
	return opErr(op, collection, id, err)
}
