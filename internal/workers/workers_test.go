package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/thrillee/esmelink/internal/store"
)

func TestRunLoopRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := atomic.NewInt32(0)
	done := make(chan struct{})
	go func() {
		RunLoop(ctx, "test", 5*time.Millisecond, func(context.Context) (int, error) {
			if runs.Inc() == 2 {
				return 0, errors.New("transient")
			}
			return 1, nil
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("loop ran %d times, an error should not stop it", runs.Load())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

type countingStore struct {
	*store.Memory
	purged *atomic.Int32
}

func (c countingStore) Purge(ctx context.Context) (int, error) {
	n, err := c.Memory.Purge(ctx)
	c.purged.Add(int32(n))
	return n, err
}

func TestManagerPurgesStore(t *testing.T) {
	base := time.Now()
	mem := store.NewMemory()
	mem.SetClock(func() time.Time { return base })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mem.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatal(err)
	}
	mem.SetClock(func() time.Time { return base.Add(2 * time.Second) })

	s := countingStore{Memory: mem, purged: atomic.NewInt32(0)}
	m := NewManager()
	m.AddStorePurge(s, 5*time.Millisecond)
	m.AddStorePurge(s, 0)
	m.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for s.purged.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.purged.Load() != 1 {
		t.Errorf("purged %d keys, want 1", s.purged.Load())
	}
	cancel()
	m.Wait()
	if len(m.jobs) != 1 {
		t.Errorf("jobs = %d, a zero interval should not register", len(m.jobs))
	}
}
