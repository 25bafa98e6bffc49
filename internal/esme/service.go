package esme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/atomic"

	"github.com/thrillee/esmelink/internal/bus"
	"github.com/thrillee/esmelink/internal/logging"
	"github.com/thrillee/esmelink/internal/metrics"
	"github.com/thrillee/esmelink/pkg/codes"
)

// ErrMaxRetries is returned by Service.Run once max_retries consecutive
// connection attempts failed.
var ErrMaxRetries = errors.New("esme: reconnect attempts exhausted")

// Dialer opens the TCP connection to the SMSC.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

func defaultDialer(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}

// ServiceConfig controls connection supervision for one bind.
type ServiceConfig struct {
	Name         string
	Address      string
	Session      SessionConfig
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	// Jitter is the fraction of the delay added or removed at random.
	Jitter float64
	// MaxRetries of zero retries forever.
	MaxRetries int
	Dialer     Dialer
	Metrics    *metrics.Metrics
}

// Status is a point-in-time view of a bind for operators.
type Status struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	BindType   string `json:"bind_type"`
	Status     string `json:"status"`
	State      string `json:"session_state"`
	Throttled  bool   `json:"throttled"`
	RetryQueue int    `json:"retry_queue"`
	Paused     bool   `json:"outbound_paused"`
	Reconnects int64  `json:"reconnects"`
}

// Service keeps one bind connected: it dials, runs a Session until it ends
// and reconnects with exponential backoff.
type Service struct {
	cfg ServiceConfig
	seq SequenceSource
	tr  *Transceiver

	status     *atomic.String
	reconnects *atomic.Int64

	mu      sync.RWMutex
	session *Session
}

func NewService(cfg ServiceConfig, seq SequenceSource, tr *Transceiver) *Service {
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Hour
	}
	if cfg.Factor < 1 {
		cfg.Factor = 2
	}
	cfg.Session.Name = cfg.Name
	if cfg.Session.Metrics == nil {
		cfg.Session.Metrics = cfg.Metrics
	}
	return &Service{
		cfg:        cfg,
		seq:        seq,
		tr:         tr,
		status:     atomic.NewString(codes.StatusDisconnected),
		reconnects: atomic.NewInt64(0),
	}
}

func (s *Service) Name() string {
	return s.cfg.Name
}

func (s *Service) Transceiver() *Transceiver {
	return s.tr
}

// QueryMessage sends query_sm on the current session.
func (s *Service) QueryMessage(ctx context.Context, smscMessageID, sourceAddr string) (uint32, error) {
	return s.tr.QueryMessage(logging.ContextWithBind(ctx, s.cfg.Name), smscMessageID, sourceAddr)
}

// Status reports the bind's current status.
func (s *Service) Status() Status {
	st := Status{
		Name:       s.cfg.Name,
		Address:    s.cfg.Address,
		BindType:   s.cfg.Session.BindType,
		Status:     s.status.Load(),
		State:      StateClosed,
		Throttled:  s.tr.Throttle().Throttled(),
		RetryQueue: s.tr.Throttle().Pending(),
		Paused:     s.tr.Gate().Paused(),
		Reconnects: s.reconnects.Load(),
	}
	s.mu.RLock()
	if s.session != nil {
		st.State = s.session.State()
		if s.session.Bound() {
			st.Status = codes.StatusBound
		}
	}
	s.mu.RUnlock()
	return st
}

// Run supervises the connection until ctx is cancelled or the retry limit
// is reached. consumer may be nil for receive-only binds.
func (s *Service) Run(ctx context.Context, consumer bus.Consumer) error {
	ctx = logging.ContextWithBind(ctx, s.cfg.Name)

	trCtx, stopTr := context.WithCancel(ctx)
	trDone := make(chan error, 1)
	go func() { trDone <- s.tr.Run(trCtx, consumer) }()
	defer func() {
		stopTr()
		if err := <-trDone; err != nil {
			slog.ErrorContext(ctx, "Outbound consumer stopped", slog.Any("error", err))
		}
	}()

	b := &backoff.Backoff{
		Min:    s.cfg.InitialDelay,
		Max:    s.cfg.MaxDelay,
		Factor: s.cfg.Factor,
	}
	failures := 0
	for {
		bound, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.status.Store(codes.StatusDisconnected)
			return nil
		}

		if bound {
			b.Reset()
			failures = 0
		}
		failures++
		if s.cfg.MaxRetries > 0 && failures > s.cfg.MaxRetries {
			s.status.Store(codes.StatusStopped)
			slog.ErrorContext(ctx, "Giving up on SMSC connection",
				slog.Int("attempts", failures),
				slog.Any("error", err),
			)
			return fmt.Errorf("%w: %s after %d attempts", ErrMaxRetries, s.cfg.Name, failures)
		}

		delay := jitter(b.Duration(), s.cfg.Jitter)
		s.reconnects.Inc()
		s.cfg.Metrics.Reconnect(s.cfg.Name)
		slog.WarnContext(ctx, "SMSC connection ended, reconnecting",
			slog.Duration("delay", delay),
			slog.Int("attempt", failures),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.status.Store(codes.StatusDisconnected)
			return nil
		case <-timer.C:
		}
	}
}

// runOnce dials and serves one session. bound reports whether the bind
// succeeded before the session ended.
func (s *Service) runOnce(ctx context.Context) (bound bool, err error) {
	s.status.Store(codes.StatusConnecting)
	conn, err := s.cfg.Dialer(ctx, s.cfg.Address)
	if err != nil {
		s.status.Store(codes.StatusDisconnected)
		return false, fmt.Errorf("esme: dial %s: %w", s.cfg.Address, err)
	}
	slog.InfoContext(ctx, "Connected to SMSC", slog.String("address", s.cfg.Address))

	sess := NewSession(conn, s.cfg.Session, s.seq, s.tr)
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	s.status.Store(codes.StatusBinding)
	err = sess.Run(ctx)
	switch {
	case sess.WasBound():
		s.status.Store(codes.StatusDisconnected)
	case err != nil:
		s.status.Store(codes.StatusBindingFailed)
	}
	return sess.WasBound(), err
}

// jitter spreads d by up to ±frac of itself.
func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + frac*(2*rand.Float64()-1)))
}
