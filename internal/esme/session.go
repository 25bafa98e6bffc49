// Package esme runs SMPP client sessions against an SMSC: the bind state
// machine, submit correlation, throttling and reconnection.
package esme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	"github.com/thrillee/esmelink/internal/logging"
	"github.com/thrillee/esmelink/internal/metrics"
	"github.com/thrillee/esmelink/pkg/codes"
	"github.com/thrillee/esmelink/pkg/pdu"
)

// Session states.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateBoundTX  = "BOUND_TX"
	StateBoundRX  = "BOUND_RX"
	StateBoundTRX = "BOUND_TRX"
)

var (
	ErrNotBound     = errors.New("esme: session not bound")
	ErrClosed       = errors.New("esme: session closed")
	ErrBindTimeout  = errors.New("esme: no bind response before timeout")
	ErrBindRejected = errors.New("esme: bind rejected")
	ErrIdleTimeout  = errors.New("esme: no PDU received within idle timeout")
	ErrPeerUnbound  = errors.New("esme: unbound by SMSC")
)

// deliverQueueSize bounds deliver_sm PDUs read but not yet handled.
const deliverQueueSize = 256

// SequenceSource hands out sequence numbers.
type SequenceSource interface {
	Next(ctx context.Context) (uint32, error)
}

// Handler receives what a Session reads. HandleDeliverSM is called for one
// PDU at a time, in arrival order; its result is sent as the deliver_sm_resp
// command_status. HandleResponse runs on its own goroutine per PDU.
type Handler interface {
	OnBound(ctx context.Context, s *Session)
	OnUnbound(ctx context.Context, s *Session)
	HandleDeliverSM(ctx context.Context, p *pdu.PDU) pdu.Status
	HandleResponse(ctx context.Context, p *pdu.PDU)
}

// SessionConfig holds the bind parameters and timers of a session.
type SessionConfig struct {
	Name                string
	BindType            string // codes.BindType*
	Bind                pdu.Bind
	BindTimeout         time.Duration
	EnquireLinkInterval time.Duration
	UnbindTimeout       time.Duration
	WriteTimeout        time.Duration
	// DecodeErrorStatus answers a deliver_sm that cannot be parsed.
	DecodeErrorStatus pdu.Status
	Metrics           *metrics.Metrics
}

// bindCommands maps a bind type to its request and the state event fired
// on success.
var bindCommands = map[string]struct {
	request pdu.CommandID
	event   string
}{
	codes.BindTypeTransmitter: {pdu.BindTransmitter, "bind_tx"},
	codes.BindTypeReceiver:    {pdu.BindReceiver, "bind_rx"},
	codes.BindTypeTransceiver: {pdu.BindTransceiver, "bind_trx"},
}

// Session owns one TCP connection to the SMSC from connect to close. It is
// not reused; the Service creates a new one for every connection.
type Session struct {
	cfg     SessionConfig
	conn    net.Conn
	seq     SequenceSource
	handler Handler
	state   *fsm.FSM

	writeMu  sync.Mutex
	lastRead *atomic.Int64
	wasBound *atomic.Bool

	deliveries chan *pdu.PDU
	bindResult chan error
	unbindResp chan struct{}
	unbinding  *atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	err       error
	wg        sync.WaitGroup
}

// NewSession wraps an established connection. Run performs the bind.
func NewSession(conn net.Conn, cfg SessionConfig, seq SequenceSource, h Handler) *Session {
	if cfg.BindType == "" {
		cfg.BindType = codes.BindTypeTransceiver
	}
	if cfg.DecodeErrorStatus == pdu.StatusOK {
		cfg.DecodeErrorStatus = pdu.StatusDeliveryFailure
	}
	if cfg.BindTimeout <= 0 {
		cfg.BindTimeout = 30 * time.Second
	}
	if cfg.EnquireLinkInterval <= 0 {
		cfg.EnquireLinkInterval = 55 * time.Second
	}
	if cfg.UnbindTimeout <= 0 {
		cfg.UnbindTimeout = 10 * time.Second
	}
	s := &Session{
		cfg:        cfg,
		conn:       conn,
		seq:        seq,
		handler:    h,
		lastRead:   atomic.NewInt64(time.Now().UnixNano()),
		wasBound:   atomic.NewBool(false),
		deliveries: make(chan *pdu.PDU, deliverQueueSize),
		bindResult: make(chan error, 1),
		unbindResp: make(chan struct{}, 1),
		unbinding:  atomic.NewBool(false),
		done:       make(chan struct{}),
	}
	s.state = fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: "connect", Src: []string{StateClosed}, Dst: StateOpen},
			{Name: "bind_tx", Src: []string{StateOpen}, Dst: StateBoundTX},
			{Name: "bind_rx", Src: []string{StateOpen}, Dst: StateBoundRX},
			{Name: "bind_trx", Src: []string{StateOpen}, Dst: StateBoundTRX},
			{Name: "disconnect", Src: []string{StateOpen, StateBoundTX, StateBoundRX, StateBoundTRX}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				slog.InfoContext(ctx, "SMPP session state changed",
					slog.String("from", e.Src),
					slog.String("to", e.Dst),
				)
			},
		},
	)
	return s
}

// State returns the current state name.
func (s *Session) State() string {
	return s.state.Current()
}

// Bound reports whether the session is in one of the bound states.
func (s *Session) Bound() bool {
	return strings.HasPrefix(s.state.Current(), "BOUND_")
}

// CanTransmit reports whether submit_sm may be sent on this session.
func (s *Session) CanTransmit() bool {
	st := s.state.Current()
	return st == StateBoundTX || st == StateBoundTRX
}

// WasBound reports whether the bind ever succeeded.
func (s *Session) WasBound() bool {
	return s.wasBound.Load()
}

// Done is closed once the connection is gone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run binds and serves the session until the connection ends. Cancelling
// ctx unbinds gracefully. The returned error says why the session ended;
// it is nil after a requested shutdown.
func (s *Session) Run(ctx context.Context) error {
	ctx = logging.ContextWithBind(ctx, s.cfg.Name)
	ctx = logging.ContextWithSystemID(ctx, s.cfg.Bind.SystemID)
	// Work started by the session must survive the caller's cancellation
	// long enough to unbind.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	s.fire(sctx, "connect")
	s.wg.Add(2)
	go s.readLoop(sctx)
	go s.deliverLoop(sctx)

	err := s.bind(ctx, sctx)
	if err == nil {
		s.wasBound.Store(true)
		s.cfg.Metrics.SetBound(s.cfg.Name, true)
		s.handler.OnBound(sctx, s)

		s.wg.Add(1)
		go s.keepAlive(sctx)

		select {
		case <-s.done:
			err = s.err
		case <-ctx.Done():
			slog.InfoContext(sctx, "Shutdown requested, unbinding")
			s.Unbind(sctx)
		}
	}

	s.closeWith(err)
	s.wg.Wait()
	s.fire(sctx, "disconnect")
	if s.wasBound.Load() {
		s.cfg.Metrics.SetBound(s.cfg.Name, false)
		s.handler.OnUnbound(sctx, s)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) bind(ctx, sctx context.Context) error {
	fam, ok := bindCommands[s.cfg.BindType]
	if !ok {
		return fmt.Errorf("esme: unknown bind type %q", s.cfg.BindType)
	}
	if _, err := s.Request(sctx, pdu.NewBind(fam.request, s.cfg.Bind)); err != nil {
		return fmt.Errorf("esme: send bind: %w", err)
	}

	timer := time.NewTimer(s.cfg.BindTimeout)
	defer timer.Stop()
	select {
	case err := <-s.bindResult:
		if err != nil {
			return err
		}
		s.fire(sctx, fam.event)
		return nil
	case <-timer.C:
		slog.WarnContext(sctx, "Bind timed out", slog.Duration("timeout", s.cfg.BindTimeout))
		return ErrBindTimeout
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request assigns p the next sequence number and writes it.
func (s *Session) Request(ctx context.Context, p *pdu.PDU) (uint32, error) {
	seq, err := s.seq.Next(ctx)
	if err != nil {
		return 0, err
	}
	p.Sequence = seq
	return seq, s.Write(ctx, p)
}

// Write sends p as is. Writes are serialised; a failed write closes the session.
func (s *Session) Write(ctx context.Context, p *pdu.PDU) error {
	b, err := pdu.Pack(p)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if _, err := s.conn.Write(b); err != nil {
		s.closeWith(fmt.Errorf("esme: write %s: %w", p.CommandID(), err))
		return ErrClosed
	}
	s.cfg.Metrics.PDU(s.cfg.Name, p.CommandID().String(), "out")
	slog.DebugContext(logging.ContextWithPDUInfo(ctx, p.CommandID().String(), p.Sequence), "PDU sent")
	return nil
}

// Unbind sends unbind and waits up to the unbind timeout for the response
// before closing the connection.
func (s *Session) Unbind(ctx context.Context) {
	s.unbindWith(ctx, nil)
}

// unbindWith is Unbind recording reason as the session's end.
func (s *Session) unbindWith(ctx context.Context, reason error) {
	if !s.unbinding.CompareAndSwap(false, true) {
		return
	}
	if _, err := s.Request(ctx, pdu.NewUnbind()); err != nil {
		s.closeWith(reason)
		return
	}
	timer := time.NewTimer(s.cfg.UnbindTimeout)
	defer timer.Stop()
	select {
	case <-s.unbindResp:
	case <-timer.C:
		slog.WarnContext(ctx, "No unbind_resp before timeout, closing")
	case <-s.done:
	}
	s.closeWith(reason)
}

// Close drops the connection without unbinding.
func (s *Session) Close() {
	s.closeWith(ErrClosed)
}

func (s *Session) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) fire(ctx context.Context, event string) {
	if err := s.state.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			slog.WarnContext(ctx, "Invalid session state transition",
				slog.String("event", event),
				slog.String("state", s.state.Current()),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				raw, rest, ok, cerr := pdu.ChopStream(buf)
				if cerr != nil {
					slog.ErrorContext(ctx, "Unrecoverable framing error", slog.Any("error", cerr))
					s.closeWith(cerr)
					return
				}
				if !ok {
					break
				}
				buf = rest
				s.dispatch(ctx, raw)
			}
			if len(buf) == 0 {
				buf = buf[:0:0]
			}
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				slog.WarnContext(ctx, "Connection lost", slog.Any("error", err))
			}
			s.closeWith(fmt.Errorf("esme: read: %w", err))
			return
		}
	}
}

func (s *Session) dispatch(ctx context.Context, raw []byte) {
	s.lastRead.Store(time.Now().UnixNano())

	p, err := pdu.Unpack(raw)
	if err != nil {
		s.onDecodeError(ctx, err)
		return
	}
	ctx = logging.ContextWithPDUInfo(ctx, p.CommandID().String(), p.Sequence)
	s.cfg.Metrics.PDU(s.cfg.Name, p.CommandID().String(), "in")
	slog.DebugContext(ctx, "PDU received", slog.String("status", p.Status.String()))

	switch p.CommandID() {
	case pdu.BindTransmitterResp, pdu.BindReceiverResp, pdu.BindTransceiverResp:
		var result error
		if p.Status != pdu.StatusOK {
			result = fmt.Errorf("%w: %s", ErrBindRejected, p.Status)
			slog.ErrorContext(ctx, "Bind rejected by SMSC", slog.String("status", p.Status.String()))
		}
		select {
		case s.bindResult <- result:
		default:
		}
	case pdu.EnquireLink:
		_ = s.Write(ctx, pdu.NewEnquireLinkResp(p.Sequence))
	case pdu.EnquireLinkResp:
	case pdu.Unbind:
		slog.InfoContext(ctx, "SMSC requested unbind")
		_ = s.Write(ctx, pdu.NewUnbindResp(p.Sequence))
		s.closeWith(ErrPeerUnbound)
	case pdu.UnbindResp:
		select {
		case s.unbindResp <- struct{}{}:
		default:
		}
	case pdu.DeliverSM:
		select {
		case s.deliveries <- p:
		case <-s.done:
		}
	case pdu.SubmitSMResp, pdu.QuerySMResp, pdu.GenericNack:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler.HandleResponse(ctx, p)
		}()
	default:
		slog.WarnContext(ctx, "Ignoring unsupported PDU")
	}
}

// onDecodeError answers a malformed request so the SMSC does not resend it
// forever. Malformed responses are only logged.
func (s *Session) onDecodeError(ctx context.Context, err error) {
	var de *pdu.DecodeError
	if !errors.As(err, &de) {
		slog.ErrorContext(ctx, "Failed to decode PDU", slog.Any("error", err))
		return
	}
	ctx = logging.ContextWithPDUInfo(ctx, de.CommandID.String(), de.Sequence)
	slog.WarnContext(ctx, "Malformed PDU", slog.String("reason", de.Reason))
	switch {
	case de.CommandID == pdu.DeliverSM:
		_ = s.Write(ctx, pdu.NewDeliverSMResp(de.Sequence, s.cfg.DecodeErrorStatus))
	case !de.CommandID.IsResponse() && de.CommandID.Known():
		_ = s.Write(ctx, pdu.NewGenericNack(de.Sequence, pdu.StatusInvalidCmdLen))
	}
}

func (s *Session) deliverLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case p := <-s.deliveries:
			pctx := logging.ContextWithPDUInfo(ctx, p.CommandID().String(), p.Sequence)
			status := s.handler.HandleDeliverSM(pctx, p)
			_ = s.Write(pctx, pdu.NewDeliverSMResp(p.Sequence, status))
		case <-s.done:
			return
		}
	}
}

// keepAlive sends enquire_link every interval and unbinds once nothing has
// been read for two intervals.
func (s *Session) keepAlive(ctx context.Context) {
	defer s.wg.Done()
	idle := 2 * s.cfg.EnquireLinkInterval
	ticker := time.NewTicker(s.cfg.EnquireLinkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			since := time.Since(time.Unix(0, s.lastRead.Load()))
			if since >= idle {
				slog.WarnContext(ctx, "Session idle, unbinding", slog.Duration("idle", since))
				s.unbindWith(ctx, ErrIdleTimeout)
				return
			}
			if _, err := s.Request(ctx, pdu.NewEnquireLink()); err != nil {
				return
			}
		}
	}
}
