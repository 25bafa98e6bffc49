package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thrillee/esmelink/internal/store"
)

type job struct {
	name     string
	interval time.Duration
	fn       WorkerFunc
}

// Manager orchestrates the background worker loops of the process.
type Manager struct {
	jobs []job
	wg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{}
}

// Add registers a loop. Loops added after Start are not run.
func (m *Manager) Add(name string, interval time.Duration, fn WorkerFunc) {
	m.jobs = append(m.jobs, job{name: name, interval: interval, fn: fn})
}

// AddStorePurge registers the expired key sweep for stores that need one.
func (m *Manager) AddStorePurge(s store.Store, interval time.Duration) {
	p, ok := s.(store.Purger)
	if !ok || interval <= 0 {
		return
	}
	m.Add("store-purge", interval, p.Purge)
}

// Start launches every registered loop.
func (m *Manager) Start(ctx context.Context) {
	slog.InfoContext(ctx, "Starting background workers", slog.Int("count", len(m.jobs)))
	for _, j := range m.jobs {
		m.wg.Add(1)
		go func(j job) {
			defer m.wg.Done()
			RunLoop(ctx, j.name, j.interval, j.fn)
		}(j)
	}
}

// Wait blocks until every loop has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
