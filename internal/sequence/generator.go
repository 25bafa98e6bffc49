// Package sequence hands out SMPP sequence numbers from a counter in the
// shared store, so every process bound with the same prefix draws from one
// sequence.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thrillee/esmelink/internal/store"
)

const (
	// DefaultRolloverAt is the high-water mark after which the counter is reset.
	DefaultRolloverAt = 0xFFFF0000
	// DefaultLockExpiry bounds how long a crashed resetter can hold the lock.
	DefaultLockExpiry = 10 * time.Second
)

// Generator produces sequence numbers for one bind prefix.
type Generator struct {
	store      store.Store
	key        string
	lockKey    string
	rolloverAt uint32
	lockExpiry time.Duration
}

// Option configures a Generator.
type Option func(*Generator)

// WithRollover sets the high-water mark and the reset lock expiry.
func WithRollover(at uint32, lockExpiry time.Duration) Option {
	return func(g *Generator) {
		if at > 0 {
			g.rolloverAt = at
		}
		if lockExpiry > 0 {
			g.lockExpiry = lockExpiry
		}
	}
}

// NewGenerator returns a generator keyed under prefix.
func NewGenerator(s store.Store, prefix string, opts ...Option) *Generator {
	g := &Generator{
		store:      s,
		key:        prefix + ":smpp_last_sequence_number",
		lockKey:    prefix + ":smpp_last_sequence_number_wrap",
		rolloverAt: DefaultRolloverAt,
		lockExpiry: DefaultLockExpiry,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns a new sequence number. Once the counter passes the rollover
// mark, the caller that wins the reset lock sets it back to zero; losers keep
// the value they drew. A resetter whose lock expired mid-reset can race a
// fresh rollover; that window is accepted.
func (g *Generator) Next(ctx context.Context) (uint32, error) {
	v, err := g.store.Incr(ctx, g.key)
	if err != nil {
		return 0, fmt.Errorf("sequence: incr %s: %w", g.key, err)
	}
	if v > int64(g.rolloverAt) {
		g.rollover(ctx, v)
		if v > 0xFFFFFFFF {
			// Someone else drew past the 32-bit range before the reset landed.
			return g.Next(ctx)
		}
	}
	return uint32(v), nil
}

func (g *Generator) rollover(ctx context.Context, observed int64) {
	locked, err := g.store.SetNX(ctx, g.lockKey, []byte("1"), g.lockExpiry)
	if err != nil {
		slog.WarnContext(ctx, "Sequence rollover lock failed",
			slog.String("key", g.lockKey),
			slog.Any("error", err),
		)
		return
	}
	if !locked {
		return
	}
	if err := g.store.ResetCounter(ctx, g.key); err != nil {
		slog.WarnContext(ctx, "Sequence counter reset failed",
			slog.String("key", g.key),
			slog.Any("error", err),
		)
		return
	}
	slog.InfoContext(ctx, "Sequence counter rolled over",
		slog.String("key", g.key),
		slog.Int64("observed", observed),
	)
}
