// Package retry runs store calls under a uniform backoff policy and reports
// the result as a tagged Outcome instead of an error hierarchy.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"terminsync/internal/logging"
)

// Status tags how a retried call ended.
type Status int

const (
	Succeeded Status = iota
	FailedTransient
	FailedPermanent
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case FailedTransient:
		return "failed_transient"
	case FailedPermanent:
		return "failed_permanent"
	}
	return "unknown"
}

// Outcome is the result of Do. Value is only meaningful when Status is Succeeded.
type Outcome[T any] struct {
	Status   Status
	Value    T
	Err      error
	Attempts int
}

func (o Outcome[T]) OK() bool { return o.Status == Succeeded }

// Policy configures Do. The zero value is not usable; start from Default.
type Policy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int
	// Delays[i] is slept after failed attempt i+1. The last entry repeats.
	Delays []time.Duration
	// Jitter is the relative spread applied to every delay (0.2 = ±20%).
	Jitter float64

	Classify func(error) Class
	Sleep    func(ctx context.Context, d time.Duration) error
	Rand     func() float64
	Logger   *logging.Logger
}

// Default is three attempts with 1s, 2s and 4s backoff, ±20% jitter.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Delays:      []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		Jitter:      0.2,
		Classify:    Classify,
		Sleep:       Sleep,
		Rand:        rand.Float64,
		Logger:      logging.Nop(),
	}
}

// WithLogger returns a copy of p logging through l.
func (p Policy) WithLogger(l *logging.Logger) Policy {
	p.Logger = l
	return p
}

// Delay returns the jittered backoff after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(p.Delays) {
		i = len(p.Delays) - 1
	}
	d := p.Delays[i]
	if p.Jitter > 0 && p.Rand != nil {
		spread := (p.Rand()*2 - 1) * p.Jitter
		d = time.Duration(math.Round(float64(d) * (1 + spread)))
	}
	return d
}

// Do calls fn until it succeeds, fails permanently or runs out of attempts.
// A transient failure is followed by its backoff delay, including the last
// one, so a run of three failures observes delays of about 1s, 2s and 4s.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) Outcome[T] {
	p = p.withDefaults()
	start := time.Now()
	var zero T

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				p.Logger.Info("retry succeeded", "op", op, "attempt", attempt, "elapsed", time.Since(start).Round(time.Millisecond))
			}
			return Outcome[T]{Status: Succeeded, Value: v, Attempts: attempt}
		}

		if p.Classify(err) == Permanent {
			p.Logger.Warn("permanent failure, not retrying", "op", op, "attempt", attempt, "max", p.MaxAttempts, "err", err)
			return Outcome[T]{Status: FailedPermanent, Value: zero, Err: err, Attempts: attempt}
		}

		delay := p.Delay(attempt)
		p.Logger.Warn("transient failure", "op", op, "attempt", attempt, "max", p.MaxAttempts,
			"delay", delay.Round(time.Millisecond), "elapsed", time.Since(start).Round(time.Millisecond), "err", err)
		if serr := p.Sleep(ctx, delay); serr != nil {
			return Outcome[T]{Status: FailedTransient, Value: zero, Err: err, Attempts: attempt}
		}
		if attempt >= p.MaxAttempts {
			p.Logger.Error("retries exhausted", "op", op, "attempts", attempt, "elapsed", time.Since(start).Round(time.Millisecond), "err", err)
			return Outcome[T]{Status: FailedTransient, Value: zero, Err: err, Attempts: attempt}
		}
	}
}

// Run is Do for calls without a result value.
func Run(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) Outcome[struct{}] {
	return Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Classify == nil {
		p.Classify = Classify
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	if p.Logger == nil {
		p.Logger = logging.Nop()
	}
	return p
}
