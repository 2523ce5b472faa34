package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mpy-dev-ml/scopegate/internal/log"
)

// Resource is a reusable stateful resource managed by a Pool. Hooks are
// invoked under the pool's serialization, so implementations must not call
// back into the pool.
type Resource interface {
	// ID identifies the resource inside its pool.
	ID() string

	// Acquire prepares the resource for exclusive use.
	Acquire() error

	// Release returns the resource to an idle state.
	Release() error

	// Cleanup tears the resource down for good.
	Cleanup() error
}

// State tracks where a pool member is in its lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateInUse         State = "in_use"
	StateReleasing     State = "releasing"
	StateReleased      State = "released"
	StateError         State = "error"
)

// ErrPoolExhausted is returned by Add when the pool is at capacity.
var ErrPoolExhausted = errors.New("pool exhausted")

// AcquisitionError reports a failure to hand out or admit a resource.
type AcquisitionError struct {
	Reason string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquisition failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("acquisition failed: %s", e.Reason)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

type member[T Resource] struct {
	res   T
	state State
}

// Pool is a bounded collection of reusable resources with exclusive handout.
// All mutating operations serialize on one mutex; hooks run under that lock
// so two concurrent Acquire calls can never select the same member.
type Pool[T Resource] struct {
	mu      sync.Mutex
	max     int
	members []*member[T]
	logger  *slog.Logger
}

// New creates a pool holding at most max resources.
func New[T Resource](max int) *Pool[T] {
	if max <= 0 {
		max = 1
	}
	return &Pool[T]{
		max:    max,
		logger: log.WithComponent("pool"),
	}
}

// Add admits a resource after a synchronous self-test (acquire then release).
// A resource failing its self-test is rejected and never offered to callers.
func (p *Pool[T]) Add(res T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.members) >= p.max {
		p.logger.Warn("pool at capacity", "max", p.max, "resource", res.ID())
		return ErrPoolExhausted
	}

	if err := res.Acquire(); err != nil {
		p.logger.Warn("self-test acquire failed", "resource", res.ID(), "error", err)
		return &AcquisitionError{Reason: "self-test acquire", Err: err}
	}
	if err := res.Release(); err != nil {
		p.logger.Warn("self-test release failed", "resource", res.ID(), "error", err)
		return &AcquisitionError{Reason: "self-test release", Err: err}
	}

	p.members = append(p.members, &member[T]{res: res, state: StateReady})
	p.logger.Info("resource added", "resource", res.ID(), "size", len(p.members))
	return nil
}

// Acquire hands out the first ready member in insertion order. It fails fast
// when none are ready; there is no wait queue.
func (p *Pool[T]) Acquire() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.members {
		if m.state != StateReady {
			continue
		}
		m.state = StateInUse
		if err := m.res.Acquire(); err != nil {
			m.state = StateError
			p.logger.Error("acquire hook failed", "resource", m.res.ID(), "error", err)
			var zero T
			return zero, &AcquisitionError{Reason: "acquire hook", Err: err}
		}
		p.logger.Debug("resource acquired", "resource", m.res.ID())
		return m.res, nil
	}

	var zero T
	return zero, &AcquisitionError{Reason: "no available resources"}
}

// Release returns a resource to the pool. Hook failures are logged but never
// strand the member in in_use.
func (p *Pool[T]) Release(res T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.members {
		if m.res.ID() != res.ID() {
			continue
		}
		m.state = StateReleasing
		if err := m.res.Release(); err != nil {
			p.logger.Warn("release hook failed", "resource", m.res.ID(), "error", err)
		}
		m.state = StateReady
		p.logger.Debug("resource released", "resource", m.res.ID())
		return
	}

	p.logger.Warn("release of unknown resource", "resource", res.ID())
}

// Cleanup tears down every member best-effort and empties the pool. Errors
// are collected, not short-circuited, so one bad member cannot block the
// teardown of the rest. Idempotent.
func (p *Pool[T]) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, m := range p.members {
		if err := m.res.Cleanup(); err != nil {
			p.logger.Warn("cleanup hook failed", "resource", m.res.ID(), "error", err)
			errs = append(errs, fmt.Errorf("cleanup %s: %w", m.res.ID(), err))
			continue
		}
		m.state = StateReleased
	}
	p.members = nil
	return errors.Join(errs...)
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Size  int `json:"size"`
	Ready int `json:"ready"`
	InUse int `json:"in_use"`
	Max   int `json:"max"`
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Size: len(p.members), Max: p.max}
	for _, m := range p.members {
		switch m.state {
		case StateReady:
			s.Ready++
		case StateInUse:
			s.InUse++
		}
	}
	return s
}
