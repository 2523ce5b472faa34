package helper

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mpy-dev-ml/scopegate/internal/metrics"
	"github.com/mpy-dev-ml/scopegate/internal/pool"
	"github.com/mpy-dev-ml/scopegate/internal/protocol"
)

// slot is one unit of helper dispatch capacity. Its acquire hook doubles as a
// health probe: a slot that cannot see an executable helper binary is unfit.
type slot struct {
	id     string
	binary string
}

func (s *slot) ID() string { return s.id }

func (s *slot) Acquire() error {
	fi, err := os.Stat(s.binary)
	if err != nil {
		return fmt.Errorf("helper binary: %w", err)
	}
	if fi.Mode()&0o111 == 0 {
		return fmt.Errorf("helper binary %s is not executable", s.binary)
	}
	return nil
}

func (s *slot) Release() error { return nil }
func (s *slot) Cleanup() error { return nil }

// PooledClient bounds concurrent helper invocations with a resource pool.
// When every slot is busy the dispatch attempt fails fast; the queue's retry
// policy decides what happens next.
type PooledClient struct {
	client  *Client
	slots   *pool.Pool[*slot]
	metrics *metrics.Collector
}

// NewPooled creates a dispatcher that allows at most maxConcurrent helper
// processes at a time. collector may be nil.
func NewPooled(cfg Config, maxConcurrent int, collector *metrics.Collector) (*PooledClient, error) {
	client, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("maxConcurrent must be positive, got %d", maxConcurrent)
	}

	slots := pool.New[*slot](maxConcurrent)
	for i := 0; i < maxConcurrent; i++ {
		s := &slot{id: fmt.Sprintf("helper-slot-%d", i), binary: cfg.Binary}
		if err := slots.Add(s); err != nil {
			if collector != nil {
				collector.RecordSelfTestFailed()
			}
			return nil, fmt.Errorf("provision dispatch slot: %w", err)
		}
	}

	return &PooledClient{client: client, slots: slots, metrics: collector}, nil
}

// Dispatch acquires a slot, runs the helper, and returns the slot on every
// exit path.
func (p *PooledClient) Dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	s, err := p.slots.Acquire()
	if err != nil {
		var acq *pool.AcquisitionError
		if p.metrics != nil && errors.As(err, &acq) {
			p.metrics.RecordPoolExhausted()
		}
		return nil, fmt.Errorf("dispatch capacity: %w", err)
	}
	defer func() {
		p.slots.Release(s)
		p.updateGauge()
	}()
	p.updateGauge()

	return p.client.Dispatch(ctx, req)
}

func (p *PooledClient) updateGauge() {
	if p.metrics != nil {
		p.metrics.SetPoolInUse(p.slots.Stats().InUse)
	}
}

// Stats reports slot usage for observability.
func (p *PooledClient) Stats() pool.Stats { return p.slots.Stats() }

// Close tears the pool down.
func (p *PooledClient) Close() error { return p.slots.Cleanup() }
