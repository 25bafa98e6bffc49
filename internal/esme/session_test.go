package esme

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/thrillee/esmelink/internal/sequence"
	"github.com/thrillee/esmelink/internal/store"
	"github.com/thrillee/esmelink/pkg/codes"
	"github.com/thrillee/esmelink/pkg/pdu"
)

const waitFor = 2 * time.Second

// fakeSMSC is the server end of a net.Pipe speaking just enough SMPP to
// drive a Session.
type fakeSMSC struct {
	conn net.Conn
	in   chan *pdu.PDU
}

func newFakeSMSC(t *testing.T, conn net.Conn) *fakeSMSC {
	t.Helper()
	f := &fakeSMSC{conn: conn, in: make(chan *pdu.PDU, 64)}
	go func() {
		defer close(f.in)
		var buf []byte
		chunk := make([]byte, 4096)
		for {
			n, err := conn.Read(chunk)
			buf = append(buf, chunk[:n]...)
			for {
				raw, rest, ok, cerr := pdu.ChopStream(buf)
				if cerr != nil || !ok {
					break
				}
				buf = rest
				if p, err := pdu.Unpack(raw); err == nil {
					f.in <- p
				}
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return f
}

// send writes every PDU in a single Write call.
func (f *fakeSMSC) send(t *testing.T, ps ...*pdu.PDU) {
	t.Helper()
	var out []byte
	for _, p := range ps {
		b, err := pdu.Pack(p)
		if err != nil {
			t.Fatalf("Pack(%s): %v", p.CommandID(), err)
		}
		out = append(out, b...)
	}
	f.sendRaw(t, out)
}

func (f *fakeSMSC) sendRaw(t *testing.T, b []byte) {
	t.Helper()
	_ = f.conn.SetWriteDeadline(time.Now().Add(waitFor))
	if _, err := f.conn.Write(b); err != nil {
		t.Fatalf("fake SMSC write: %v", err)
	}
}

// expect returns the next PDU the client sent, skipping enquire_link.
func (f *fakeSMSC) expect(t *testing.T, id pdu.CommandID) *pdu.PDU {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case p, ok := <-f.in:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", id)
			}
			if p.CommandID() == pdu.EnquireLink && id != pdu.EnquireLink {
				continue
			}
			if p.CommandID() != id {
				t.Fatalf("got %s, want %s", p.CommandID(), id)
			}
			return p
		case <-timeout:
			t.Fatalf("timed out waiting for %s", id)
			return nil
		}
	}
}

// acceptBind answers the bind request with status.
func (f *fakeSMSC) acceptBind(t *testing.T, req pdu.CommandID, status pdu.Status) {
	t.Helper()
	p := f.expect(t, req)
	f.send(t, pdu.NewBindResp(req, p.Sequence, status, "SMSC"))
}

type recordingHandler struct {
	mu        sync.Mutex
	bound     chan struct{}
	unbound   chan struct{}
	delivered []*pdu.PDU
	responses chan *pdu.PDU
	status    pdu.Status
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		bound:     make(chan struct{}, 1),
		unbound:   make(chan struct{}, 1),
		responses: make(chan *pdu.PDU, 16),
	}
}

func (h *recordingHandler) OnBound(context.Context, *Session)   { h.bound <- struct{}{} }
func (h *recordingHandler) OnUnbound(context.Context, *Session) { h.unbound <- struct{}{} }

func (h *recordingHandler) HandleDeliverSM(_ context.Context, p *pdu.PDU) pdu.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delivered = append(h.delivered, p)
	return h.status
}

func (h *recordingHandler) HandleResponse(_ context.Context, p *pdu.PDU) {
	h.responses <- p
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type sessionRun struct {
	sess *Session
	err  chan error
}

func startSession(t *testing.T, ctx context.Context, cfg SessionConfig, h Handler) (*sessionRun, *fakeSMSC) {
	t.Helper()
	client, server := net.Pipe()
	smsc := newFakeSMSC(t, server)
	seq := sequence.NewGenerator(store.NewMemory(), "test")
	sess := NewSession(client, cfg, seq, h)
	run := &sessionRun{sess: sess, err: make(chan error, 1)}
	go func() { run.err <- sess.Run(ctx) }()
	return run, smsc
}

func (r *sessionRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.err:
		return err
	case <-time.After(waitFor):
		t.Fatal("session did not end")
		return nil
	}
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Name:          "test",
		BindType:      codes.BindTypeTransceiver,
		Bind:          pdu.Bind{SystemID: "esme", Password: "secret", InterfaceVersion: 0x34},
		BindTimeout:   time.Second,
		UnbindTimeout: 200 * time.Millisecond,
	}
}

func TestSessionBindDeliverAndUnbind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newRecordingHandler()
	run, smsc := startSession(t, ctx, testSessionConfig(), h)

	bind := smsc.expect(t, pdu.BindTransceiver)
	if b := bind.Body.(*pdu.Bind); b.SystemID != "esme" || b.Password != "secret" {
		t.Errorf("bind body = %+v", b)
	}
	smsc.send(t, pdu.NewBindResp(pdu.BindTransceiver, bind.Sequence, pdu.StatusOK, "SMSC"))
	waitSignal(t, h.bound, "OnBound")
	if got := run.sess.State(); got != StateBoundTRX {
		t.Errorf("State() = %s, want %s", got, StateBoundTRX)
	}
	if !run.sess.CanTransmit() {
		t.Error("CanTransmit() = false on a transceiver bind")
	}

	// Two PDUs in one read must both be handled.
	dsm := pdu.NewDeliverSM(pdu.SM{SourceAddr: "2348030000000", DestinationAddr: "1234", ShortMessage: []byte("hi")})
	dsm.Sequence = 77
	el := pdu.NewEnquireLink()
	el.Sequence = 78
	smsc.send(t, dsm, el)

	resp := smsc.expect(t, pdu.DeliverSMResp)
	if resp.Sequence != 77 || resp.Status != pdu.StatusOK {
		t.Errorf("deliver_sm_resp seq=%d status=%s", resp.Sequence, resp.Status)
	}
	if got := smsc.expect(t, pdu.EnquireLinkResp); got.Sequence != 78 {
		t.Errorf("enquire_link_resp seq = %d, want 78", got.Sequence)
	}

	cancel()
	unbind := smsc.expect(t, pdu.Unbind)
	smsc.send(t, pdu.NewUnbindResp(unbind.Sequence))
	if err := run.wait(t); err != nil {
		t.Errorf("Run() after shutdown = %v, want nil", err)
	}
	waitSignal(t, h.unbound, "OnUnbound")
	if got := run.sess.State(); got != StateClosed {
		t.Errorf("State() = %s, want %s", got, StateClosed)
	}
}

func TestSessionHandlerStatusAnswersDeliverSM(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newRecordingHandler()
	h.status = pdu.StatusDeliveryFailure
	_, smsc := startSession(t, ctx, testSessionConfig(), h)
	smsc.acceptBind(t, pdu.BindTransceiver, pdu.StatusOK)
	waitSignal(t, h.bound, "OnBound")

	dsm := pdu.NewDeliverSM(pdu.SM{SourceAddr: "1", DestinationAddr: "2", DataCoding: 0x08, ShortMessage: []byte{0xD8}})
	dsm.Sequence = 5
	smsc.send(t, dsm)
	if resp := smsc.expect(t, pdu.DeliverSMResp); resp.Status != pdu.StatusDeliveryFailure {
		t.Errorf("deliver_sm_resp status = %s, want %s", resp.Status, pdu.StatusDeliveryFailure)
	}
}

func TestSessionMalformedRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newRecordingHandler()
	_, smsc := startSession(t, ctx, testSessionConfig(), h)
	smsc.acceptBind(t, pdu.BindTransceiver, pdu.StatusOK)
	waitSignal(t, h.bound, "OnBound")

	// A deliver_sm whose service_type is never terminated.
	raw := make([]byte, 20)
	binary.BigEndian.PutUint32(raw[0:], 20)
	binary.BigEndian.PutUint32(raw[4:], uint32(pdu.DeliverSM))
	binary.BigEndian.PutUint32(raw[12:], 9)
	copy(raw[16:], "abcd")
	smsc.sendRaw(t, raw)

	resp := smsc.expect(t, pdu.DeliverSMResp)
	if resp.Sequence != 9 || resp.Status != pdu.StatusDeliveryFailure {
		t.Errorf("deliver_sm_resp seq=%d status=%s, want 9 %s", resp.Sequence, resp.Status, pdu.StatusDeliveryFailure)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.delivered) != 0 {
		t.Errorf("handler saw %d deliver_sm, want 0", len(h.delivered))
	}
}

func TestSessionResponsesReachHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newRecordingHandler()
	_, smsc := startSession(t, ctx, testSessionConfig(), h)
	smsc.acceptBind(t, pdu.BindTransceiver, pdu.StatusOK)
	waitSignal(t, h.bound, "OnBound")

	smsc.send(t, pdu.NewSubmitSMResp(42, pdu.StatusOK, "abc"), pdu.NewGenericNack(43, pdu.StatusInvalidCmdID))
	got := map[uint32]pdu.CommandID{}
	for i := 0; i < 2; i++ {
		select {
		case p := <-h.responses:
			got[p.Sequence] = p.CommandID()
		case <-time.After(waitFor):
			t.Fatal("timed out waiting for responses")
		}
	}
	if got[42] != pdu.SubmitSMResp || got[43] != pdu.GenericNack {
		t.Errorf("responses = %v", got)
	}
}

func TestSessionPeerUnbind(t *testing.T) {
	h := newRecordingHandler()
	run, smsc := startSession(t, context.Background(), testSessionConfig(), h)
	smsc.acceptBind(t, pdu.BindTransceiver, pdu.StatusOK)
	waitSignal(t, h.bound, "OnBound")

	unbind := pdu.NewUnbind()
	unbind.Sequence = 11
	smsc.send(t, unbind)
	if resp := smsc.expect(t, pdu.UnbindResp); resp.Sequence != 11 {
		t.Errorf("unbind_resp seq = %d, want 11", resp.Sequence)
	}
	if err := run.wait(t); !errors.Is(err, ErrPeerUnbound) {
		t.Errorf("Run() = %v, want ErrPeerUnbound", err)
	}
	waitSignal(t, h.unbound, "OnUnbound")
}

func TestSessionBindFailures(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		h := newRecordingHandler()
		cfg := testSessionConfig()
		cfg.BindType = codes.BindTypeTransmitter
		run, smsc := startSession(t, context.Background(), cfg, h)
		smsc.acceptBind(t, pdu.BindTransmitter, pdu.StatusInvalidPassword)
		if err := run.wait(t); !errors.Is(err, ErrBindRejected) {
			t.Errorf("Run() = %v, want ErrBindRejected", err)
		}
		if run.sess.WasBound() {
			t.Error("WasBound() = true after rejection")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		h := newRecordingHandler()
		cfg := testSessionConfig()
		cfg.BindType = codes.BindTypeReceiver
		cfg.BindTimeout = 50 * time.Millisecond
		run, smsc := startSession(t, context.Background(), cfg, h)
		smsc.expect(t, pdu.BindReceiver)
		if err := run.wait(t); !errors.Is(err, ErrBindTimeout) {
			t.Errorf("Run() = %v, want ErrBindTimeout", err)
		}
	})
}

func TestSessionIdleTimeout(t *testing.T) {
	h := newRecordingHandler()
	cfg := testSessionConfig()
	cfg.EnquireLinkInterval = 30 * time.Millisecond
	cfg.UnbindTimeout = 30 * time.Millisecond
	run, smsc := startSession(t, context.Background(), cfg, h)
	smsc.acceptBind(t, pdu.BindTransceiver, pdu.StatusOK)
	waitSignal(t, h.bound, "OnBound")

	// enquire_link is never answered.
	if err := run.wait(t); !errors.Is(err, ErrIdleTimeout) {
		t.Errorf("Run() = %v, want ErrIdleTimeout", err)
	}
}

func TestSessionReceiverCannotTransmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newRecordingHandler()
	cfg := testSessionConfig()
	cfg.BindType = codes.BindTypeReceiver
	run, smsc := startSession(t, ctx, cfg, h)
	smsc.acceptBind(t, pdu.BindReceiver, pdu.StatusOK)
	waitSignal(t, h.bound, "OnBound")
	if run.sess.State() != StateBoundRX || run.sess.CanTransmit() {
		t.Errorf("State() = %s CanTransmit() = %v", run.sess.State(), run.sess.CanTransmit())
	}
}
