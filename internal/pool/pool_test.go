package pool

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeResource counts hook invocations and can be told to fail.
type fakeResource struct {
	mu         sync.Mutex
	id         string
	acquires   int
	releases   int
	cleanups   int
	acquireErr error
	releaseErr error
	cleanupErr error
}

func (r *fakeResource) ID() string { return r.id }

func (r *fakeResource) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acquireErr != nil {
		return r.acquireErr
	}
	r.acquires++
	return nil
}

func (r *fakeResource) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
	return r.releaseErr
}

func (r *fakeResource) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups++
	return r.cleanupErr
}

func TestAddSelfTest(t *testing.T) {
	t.Parallel()

	p := New[*fakeResource](2)

	good := &fakeResource{id: "good"}
	if err := p.Add(good); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if good.acquires != 1 || good.releases != 1 {
		t.Fatalf("self-test did not run acquire+release: %d/%d", good.acquires, good.releases)
	}

	bad := &fakeResource{id: "bad", acquireErr: errors.New("not configured")}
	err := p.Add(bad)
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}
	if got := p.Stats().Size; got != 1 {
		t.Fatalf("rejected resource changed pool size: %d", got)
	}
}

func TestAddExhausted(t *testing.T) {
	t.Parallel()

	p := New[*fakeResource](1)
	if err := p.Add(&fakeResource{id: "r1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add(&fakeResource{id: "r2"}); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestAcquireInsertionOrder(t *testing.T) {
	t.Parallel()

	p := New[*fakeResource](3)
	for _, id := range []string{"first", "second", "third"} {
		if err := p.Add(&fakeResource{id: id}); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}

	r1, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if r1.ID() != "first" {
		t.Fatalf("expected first member, got %s", r1.ID())
	}

	r2, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if r2.ID() != "second" {
		t.Fatalf("expected second member, got %s", r2.ID())
	}

	p.Release(r1)
	r3, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if r3.ID() != "first" {
		t.Fatalf("expected released first member again, got %s", r3.ID())
	}
}

func TestAcquireExclusivity(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("size=%d", n), func(t *testing.T) {
			t.Parallel()

			p := New[*fakeResource](n)
			for i := range n {
				if err := p.Add(&fakeResource{id: fmt.Sprintf("r%d", i)}); err != nil {
					t.Fatalf("Add: %v", err)
				}
			}

			callers := n + 3
			var mu sync.Mutex
			seen := make(map[string]bool)
			exhausted := 0

			var wg sync.WaitGroup
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := p.Acquire()
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						var acqErr *AcquisitionError
						if !errors.As(err, &acqErr) {
							t.Errorf("unexpected error type: %v", err)
						}
						exhausted++
						return
					}
					if seen[res.ID()] {
						t.Errorf("resource %s handed out twice", res.ID())
					}
					seen[res.ID()] = true
				}()
			}
			wg.Wait()

			if len(seen) != n {
				t.Fatalf("expected %d distinct resources, got %d", n, len(seen))
			}
			if exhausted != callers-n {
				t.Fatalf("expected %d exhaustion failures, got %d", callers-n, exhausted)
			}
			if got := p.Stats().InUse; got != n {
				t.Fatalf("expected all %d members in use, got %d", n, got)
			}
		})
	}
}

func TestReleaseSurvivesHookFailure(t *testing.T) {
	t.Parallel()

	p := New[*fakeResource](1)
	res := &fakeResource{id: "r1"}
	if err := p.Add(res); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := p.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	res.releaseErr = errors.New("flush failed")
	p.Release(res)

	// The member must be available again despite the failing hook.
	got, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire after failed release: %v", err)
	}
	if got.ID() != "r1" {
		t.Fatalf("unexpected resource: %s", got.ID())
	}
}

func TestCleanupBestEffortAndIdempotent(t *testing.T) {
	t.Parallel()

	p := New[*fakeResource](3)
	r1 := &fakeResource{id: "r1"}
	r2 := &fakeResource{id: "r2", cleanupErr: errors.New("stuck handle")}
	r3 := &fakeResource{id: "r3"}
	for _, r := range []*fakeResource{r1, r2, r3} {
		if err := p.Add(r); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	err := p.Cleanup()
	if err == nil {
		t.Fatal("expected aggregate error from failing member")
	}
	if r1.cleanups != 1 || r2.cleanups != 1 || r3.cleanups != 1 {
		t.Fatalf("cleanup skipped members: %d/%d/%d", r1.cleanups, r2.cleanups, r3.cleanups)
	}
	if got := p.Stats().Size; got != 0 {
		t.Fatalf("pool not emptied: size=%d", got)
	}

	// Second cleanup observes the same state and touches nothing.
	if err := p.Cleanup(); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if r1.cleanups != 1 {
		t.Fatalf("second cleanup re-ran hooks: %d", r1.cleanups)
	}
}
