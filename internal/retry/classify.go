package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"terminsync/internal/store"
)

// Class splits failures into those worth retrying and those that are not.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// Classify treats timeouts, connection failures, rate limiting and service
// unavailability as transient. Everything else, validation, authorization and
// not-found included, is permanent.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Permanent
	case errors.Is(err, context.Canceled):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, store.ErrTimeout),
		errors.Is(err, store.ErrRateLimited),
		errors.Is(err, store.ErrUnavailable),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return Transient
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrUnauthorized),
		errors.Is(err, store.ErrNotFound):
		return Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return Transient
	}
	return Permanent
}
