package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thrillee/esmelink/internal/logging"
)

// WorkerFunc defines the function signature for work performed by a worker loop.
// It returns the number of items processed and any error encountered.
type WorkerFunc func(ctx context.Context) (int, error)

// RunLoop runs workerFunc every interval until ctx is done.
func RunLoop(ctx context.Context, name string, interval time.Duration, workerFunc WorkerFunc) {
	ctx = logging.ContextWithWorkerID(ctx, name)
	slog.DebugContext(ctx, "Worker starting", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "Worker stopping")
			return
		case <-ticker.C:
			runWork(ctx, interval, workerFunc)
		}
	}
}

// runWork executes a single run bounded by the loop interval, or a minute
// for slow loops.
func runWork(ctx context.Context, interval time.Duration, workerFunc WorkerFunc) {
	timeout := interval
	if timeout < time.Minute {
		timeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	processedCount, err := workerFunc(runCtx)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		slog.ErrorContext(ctx, "Worker run failed", slog.Any("error", err))
	case processedCount > 0:
		slog.DebugContext(ctx, "Worker processed items", slog.Int("count", processedCount))
	}
}
