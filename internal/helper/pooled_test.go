package helper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mpy-dev-ml/scopegate/internal/pool"
	"github.com/mpy-dev-ml/scopegate/internal/protocol"
)

func TestNewPooledValidation(t *testing.T) {
	t.Parallel()

	script := writeHelperScript(t, "#!/bin/bash\n")

	if _, err := NewPooled(Config{Binary: script}, 0, nil); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewPooled(Config{}, 2, nil); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

func TestNewPooledSelfTestRejectsMissingBinary(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := NewPooled(Config{Binary: missing}, 1, nil); err == nil {
		t.Fatal("expected provisioning failure for missing binary")
	}
}

func TestNewPooledSelfTestRejectsNonExecutable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/bash\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewPooled(Config{Binary: path}, 1, nil); err == nil {
		t.Fatal("expected provisioning failure for non-executable binary")
	}
}

func TestPooledDispatch(t *testing.T) {
	t.Parallel()

	script := `#!/bin/bash
read input
echo '{"status": "ok", "exit_code": 0, "stdout": "done"}'
`
	p, err := NewPooled(Config{Binary: writeHelperScript(t, script), Timeout: 5 * time.Second}, 2, nil)
	if err != nil {
		t.Fatalf("NewPooled: %v", err)
	}
	defer p.Close()

	resp, err := p.Dispatch(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Status != protocol.StatusOK {
		t.Fatalf("unexpected response: %#v", resp)
	}

	stats := p.Stats()
	if stats.Size != 2 || stats.InUse != 0 {
		t.Fatalf("unexpected stats after dispatch: %#v", stats)
	}
}

func TestPooledDispatchExhaustionFailsFast(t *testing.T) {
	t.Parallel()

	// Helper blocks until stdin closes; the single slot stays busy.
	script := `#!/bin/bash
sleep 2
echo '{"status": "ok", "exit_code": 0}'
`
	p, err := NewPooled(Config{Binary: writeHelperScript(t, script), Timeout: 5 * time.Second}, 1, nil)
	if err != nil {
		t.Fatalf("NewPooled: %v", err)
	}
	defer p.Close()

	var exhausted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Dispatch(context.Background(), testRequest())
			var acq *pool.AcquisitionError
			if errors.As(err, &acq) {
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	if exhausted.Load() == 0 {
		t.Fatal("expected at least one fast exhaustion failure")
	}
	if p.Stats().InUse != 0 {
		t.Fatalf("slots leaked: %#v", p.Stats())
	}
}
