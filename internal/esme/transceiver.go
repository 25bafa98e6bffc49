package esme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thrillee/esmelink/internal/bus"
	"github.com/thrillee/esmelink/internal/logging"
	"github.com/thrillee/esmelink/internal/message"
	"github.com/thrillee/esmelink/internal/metrics"
	"github.com/thrillee/esmelink/internal/processor"
	"github.com/thrillee/esmelink/internal/stash"
	"github.com/thrillee/esmelink/internal/workers"
	"github.com/thrillee/esmelink/pkg/codes"
	"github.com/thrillee/esmelink/pkg/errormapper"
	"github.com/thrillee/esmelink/pkg/pdu"
)

// Link is the bound connection a Transceiver writes to.
type Link interface {
	Write(ctx context.Context, p *pdu.PDU) error
	CanTransmit() bool
}

// TransceiverConfig holds per-bind behaviour outside the session itself.
type TransceiverConfig struct {
	Name          string
	TransportName string
	// Transmit is false for receiver binds, which never consume the bus.
	Transmit          bool
	ThrottleDelay     time.Duration
	DecodeErrorStatus pdu.Status
	SourceAddrTON     uint8
	SourceAddrNPI     uint8
}

// Transceiver connects one bind to the message bus. It submits outbound
// messages, correlates responses through the stash, publishes inbound
// messages and events, and drives throttling. It survives reconnects; each
// new Session reports to it through the Handler methods.
type Transceiver struct {
	cfg      TransceiverConfig
	seq      SequenceSource
	stash    *stash.Stash
	submit   processor.SubmitProcessor
	deliver  processor.DeliverProcessor
	pub      bus.Publisher
	gate     *bus.Gate
	throttle *Throttle
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.RWMutex
	link Link
}

// TransceiverDeps are the collaborators of a Transceiver.
type TransceiverDeps struct {
	Sequence  SequenceSource
	Stash     *stash.Stash
	Submit    processor.SubmitProcessor
	Deliver   processor.DeliverProcessor
	Publisher bus.Publisher
	Throttle  *Throttle
	Metrics   *metrics.Metrics
}

func NewTransceiver(cfg TransceiverConfig, deps TransceiverDeps) *Transceiver {
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = 100 * time.Millisecond
	}
	if cfg.DecodeErrorStatus == pdu.StatusOK {
		cfg.DecodeErrorStatus = pdu.StatusDeliveryFailure
	}
	if deps.Throttle == nil {
		deps.Throttle = NewThrottle(0)
	}
	t := &Transceiver{
		cfg:      cfg,
		seq:      deps.Sequence,
		stash:    deps.Stash,
		submit:   deps.Submit,
		deliver:  deps.Deliver,
		pub:      deps.Publisher,
		gate:     bus.NewGate(),
		throttle: deps.Throttle,
		metrics:  deps.Metrics,
		now:      time.Now,
	}
	// Nothing is consumed until a session binds.
	t.gate.Pause()
	return t
}

// Gate is the pause/resume control on bus consumption.
func (t *Transceiver) Gate() *bus.Gate {
	return t.gate
}

func (t *Transceiver) Throttle() *Throttle {
	return t.throttle
}

// Run drives the throttle drain, the rate window and, for transmitting
// binds, bus consumption, until ctx is done.
func (t *Transceiver) Run(ctx context.Context, consumer bus.Consumer) error {
	ctx = logging.ContextWithBind(ctx, t.cfg.Name)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		workers.RunLoop(ctx, t.cfg.Name+"-throttle", t.cfg.ThrottleDelay, t.DrainRetries)
	}()
	go func() {
		defer wg.Done()
		workers.RunLoop(ctx, t.cfg.Name+"-tps-window", time.Second, func(context.Context) (int, error) {
			t.throttle.ResetWindow()
			return 0, nil
		})
	}()
	defer wg.Wait()

	if !t.cfg.Transmit || consumer == nil {
		<-ctx.Done()
		return nil
	}
	err := consumer.Consume(ctx, t.gate, t.HandleOutbound)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ==============================================================
// Session Handler
// ==============================================================

func (t *Transceiver) OnBound(ctx context.Context, s *Session) {
	t.attach(ctx, s)
}

func (t *Transceiver) OnUnbound(ctx context.Context, s *Session) {
	t.detach(ctx)
}

func (t *Transceiver) attach(ctx context.Context, l Link) {
	t.mu.Lock()
	t.link = l
	t.mu.Unlock()
	if t.cfg.Transmit && l.CanTransmit() && !t.throttle.Throttled() {
		if t.gate.Resume() {
			slog.InfoContext(ctx, "Bound, resuming outbound consumption")
		}
	}
}

func (t *Transceiver) detach(ctx context.Context) {
	t.mu.Lock()
	t.link = nil
	t.mu.Unlock()
	if t.gate.Pause() {
		slog.InfoContext(ctx, "Unbound, pausing outbound consumption")
	}
}

func (t *Transceiver) currentLink() Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.link
}

// HandleDeliverSM runs the deliver processor and returns the status for the
// deliver_sm_resp. Only content that cannot be decoded is refused; other
// failures are logged and acknowledged so the SMSC does not resend forever.
func (t *Transceiver) HandleDeliverSM(ctx context.Context, p *pdu.PDU) pdu.Status {
	res, err := t.deliver.Process(ctx, p)
	if err != nil {
		if errors.Is(err, processor.ErrDecode) {
			slog.WarnContext(ctx, "Refusing undecodable deliver_sm",
				slog.String("status", t.cfg.DecodeErrorStatus.String()),
				slog.Any("error", err),
			)
			return t.cfg.DecodeErrorStatus
		}
		slog.ErrorContext(ctx, "Failed to process deliver_sm", slog.Any("error", err))
		return pdu.StatusOK
	}

	switch res.Kind {
	case processor.ResultInbound:
		if err := t.pub.PublishInbound(ctx, res.Inbound); err != nil {
			slog.ErrorContext(ctx, "Failed to publish inbound message", slog.Any("error", err))
			return pdu.StatusOK
		}
		t.metrics.Published(t.cfg.Name, "inbound")
		slog.InfoContext(logging.ContextWithMessageID(ctx, res.Inbound.MessageID), "Inbound message published",
			slog.String("transport_type", res.Inbound.TransportType),
		)
	case processor.ResultDeliveryReport:
		t.publishReport(ctx, res.Report)
	}
	return pdu.StatusOK
}

// HandleResponse correlates submit_sm_resp, generic_nack and query_sm_resp.
func (t *Transceiver) HandleResponse(ctx context.Context, p *pdu.PDU) {
	switch p.CommandID() {
	case pdu.SubmitSMResp, pdu.GenericNack:
		t.handleSubmitResp(ctx, p)
	case pdu.QuerySMResp:
		t.handleQueryResp(ctx, p)
	}
}

// ==============================================================
// Outbound
// ==============================================================

// HandleOutbound submits one message from the bus. Failures are reported as
// nack events, so the returned error is reserved for publishing failures.
func (t *Transceiver) HandleOutbound(ctx context.Context, msg message.Outbound) error {
	ctx = logging.ContextWithMessageID(ctx, msg.MessageID)

	link := t.currentLink()
	if link == nil || !link.CanTransmit() {
		slog.WarnContext(ctx, "Outbound message while not bound")
		return t.publishNack(ctx, msg.MessageID, codes.NackNotBound)
	}

	seqs, err := t.submit.Submit(ctx, t, msg)
	if t.throttle.CountSends(len(seqs)) {
		t.enterThrottle(ctx, "mt_tps limit reached")
	}
	if err != nil {
		reason := codes.NackSubmitFailure
		switch {
		case errors.Is(err, processor.ErrTooLong):
			reason = codes.NackTooLong
		case errors.Is(err, processor.ErrEncode):
			reason = codes.NackEncodingFailure
		}
		slog.WarnContext(ctx, "Submit failed", slog.String("reason", reason), slog.Any("error", err))
		return t.publishNack(ctx, msg.MessageID, reason)
	}
	slog.InfoContext(ctx, "Message submitted", slog.Int("segments", len(seqs)))
	return nil
}

// SendSubmit implements processor.Sender. The PDU is cached under its new
// sequence number before it is written so a fast response always finds it.
func (t *Transceiver) SendSubmit(ctx context.Context, p *pdu.PDU, entry stash.PendingPDU) (uint32, error) {
	link := t.currentLink()
	if link == nil {
		return 0, ErrNotBound
	}
	return t.cacheAndWrite(ctx, link, p, entry)
}

// cacheAndWrite returns 0 unless the PDU was cached under its new sequence
// number. A non-zero result with an error means only the write failed.
func (t *Transceiver) cacheAndWrite(ctx context.Context, link Link, p *pdu.PDU, entry stash.PendingPDU) (uint32, error) {
	seq, err := t.seq.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("esme: sequence: %w", err)
	}
	p.Sequence = seq
	raw, err := pdu.Pack(p)
	if err != nil {
		return 0, err
	}
	entry.PDU = raw
	if err := t.stash.CachePDU(ctx, seq, entry); err != nil {
		return 0, fmt.Errorf("esme: cache pdu %d: %w", seq, err)
	}
	return seq, link.Write(ctx, p)
}

// QueryMessage sends query_sm for a message the SMSC accepted earlier. The
// answer is published as a delivery report.
func (t *Transceiver) QueryMessage(ctx context.Context, smscMessageID, sourceAddr string) (uint32, error) {
	link := t.currentLink()
	if link == nil || !link.CanTransmit() {
		return 0, ErrNotBound
	}
	p := pdu.NewQuerySM(pdu.Query{
		MessageID:     smscMessageID,
		SourceAddrTON: t.cfg.SourceAddrTON,
		SourceAddrNPI: t.cfg.SourceAddrNPI,
		SourceAddr:    sourceAddr,
	})
	return t.cacheAndWrite(ctx, link, p, stash.PendingPDU{
		MessageID: smscMessageID,
		Command:   pdu.QuerySM.String(),
	})
}

func (t *Transceiver) handleSubmitResp(ctx context.Context, p *pdu.PDU) {
	entry, err := t.stash.PendingPDU(ctx, p.Sequence)
	if errors.Is(err, stash.ErrNotFound) {
		slog.WarnContext(ctx, "Response for unknown or expired sequence number", slog.String("status", p.Status.String()))
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load cached PDU", slog.Any("error", err))
		return
	}
	if entry.Command == pdu.QuerySM.String() {
		_ = t.stash.DeletePDU(ctx, p.Sequence)
		slog.WarnContext(ctx, "query_sm rejected",
			slog.String("smsc_message_id", entry.MessageID),
			slog.String("command", p.CommandID().String()),
			slog.String("status", p.Status.String()),
		)
		return
	}
	ctx = logging.ContextWithMessageID(ctx, entry.MessageID)

	class := errormapper.ClassifySubmit(p.Status)
	if p.CommandID() == pdu.GenericNack && class == errormapper.ClassOK {
		class = errormapper.ClassPermanent
	}
	t.metrics.SubmitResult(t.cfg.Name, class.String())

	if class == errormapper.ClassThrottled {
		t.throttle.Enqueue(p.Sequence)
		t.metrics.SetRetryQueue(t.cfg.Name, t.throttle.Pending())
		t.enterThrottle(ctx, p.Status.String())
		return
	}

	if err := t.stash.DeletePDU(ctx, p.Sequence); err != nil {
		slog.WarnContext(ctx, "Failed to delete cached PDU", slog.Any("error", err))
	}

	smscID, reason := "", ""
	if class == errormapper.ClassOK {
		smscID = p.MessageID()
		if smscID != "" {
			if err := t.stash.SetRemoteMessageID(ctx, smscID, entry.MessageID); err != nil {
				slog.ErrorContext(ctx, "Failed to store SMSC message id", slog.Any("error", err))
			}
		}
	} else {
		reason = errormapper.NackReason(p.Status)
		if p.CommandID() == pdu.GenericNack {
			reason = "generic_nack: " + reason
		}
	}

	if entry.Multipart() {
		out, err := t.stash.RecordPart(ctx, entry.MessageID, entry.Part, smscID, reason)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to record multipart response", slog.Int("part", entry.Part), slog.Any("error", err))
			return
		}
		if !out.Done {
			return
		}
		smscID, reason = out.SentMessageID, ""
		if out.Failed {
			reason = out.Reason
		}
	}

	if reason != "" {
		_ = t.publishNack(ctx, entry.MessageID, reason)
		return
	}
	_ = t.publishEvent(ctx, message.NewAck(t.cfg.TransportName, entry.MessageID, smscID))
}

func (t *Transceiver) handleQueryResp(ctx context.Context, p *pdu.PDU) {
	entry, err := t.stash.PendingPDU(ctx, p.Sequence)
	if err != nil {
		slog.WarnContext(ctx, "query_sm_resp for unknown sequence number", slog.Any("error", err))
		return
	}
	_ = t.stash.DeletePDU(ctx, p.Sequence)
	if p.Status != pdu.StatusOK {
		slog.WarnContext(ctx, "query_sm failed",
			slog.String("smsc_message_id", entry.MessageID),
			slog.String("status", p.Status.String()),
		)
		return
	}
	resp, ok := p.Body.(*pdu.QueryResp)
	if !ok {
		return
	}
	smscID := resp.MessageID
	if smscID == "" {
		smscID = entry.MessageID
	}
	state := resp.MessageState
	t.publishReport(ctx, processor.DeliveryReport{
		SMSCMessageID: smscID,
		Status:        errormapper.DeliveryStatusFromState(state),
		Stat:          state.String(),
	})
}

// ==============================================================
// Throttling
// ==============================================================

func (t *Transceiver) enterThrottle(ctx context.Context, reason string) {
	if !t.throttle.Mark(t.now()) {
		return
	}
	t.gate.Pause()
	t.metrics.SetThrottled(t.cfg.Name, true)
	slog.WarnContext(ctx, "Throttling outbound traffic", slog.String("reason", reason))
}

// DrainRetries resends at most one throttled PDU per call with a fresh
// sequence number. Once the queue is empty and no throttling signal arrived
// for the throttle delay, outbound consumption resumes.
func (t *Transceiver) DrainRetries(ctx context.Context) (int, error) {
	if !t.throttle.Throttled() || t.throttle.WindowFull() {
		return 0, nil
	}
	link := t.currentLink()
	if link == nil || !link.CanTransmit() {
		return 0, nil
	}

	oldSeq, ok := t.throttle.Pop()
	if !ok {
		if t.throttle.QuietFor(t.now(), t.cfg.ThrottleDelay) && t.throttle.Clear() {
			t.metrics.SetThrottled(t.cfg.Name, false)
			t.gate.Resume()
			slog.InfoContext(ctx, "Throttling cleared, resuming outbound consumption")
		}
		return 0, nil
	}
	defer func() { t.metrics.SetRetryQueue(t.cfg.Name, t.throttle.Pending()) }()

	entry, err := t.stash.PendingPDU(ctx, oldSeq)
	if errors.Is(err, stash.ErrNotFound) {
		slog.WarnContext(ctx, "Throttled PDU expired before resend", slog.Uint64("seq_num", uint64(oldSeq)))
		return 0, nil
	}
	if err != nil {
		t.throttle.Enqueue(oldSeq)
		return 0, err
	}
	p, err := pdu.Unpack(entry.PDU)
	if err != nil {
		_ = t.stash.DeletePDU(ctx, oldSeq)
		return 0, fmt.Errorf("esme: cached pdu %d: %w", oldSeq, err)
	}

	newSeq, err := t.cacheAndWrite(ctx, link, p, entry)
	if err != nil {
		if newSeq != 0 {
			t.throttle.Enqueue(newSeq)
			_ = t.stash.DeletePDU(ctx, oldSeq)
		} else {
			t.throttle.Enqueue(oldSeq)
		}
		return 0, err
	}
	if err := t.stash.DeletePDU(ctx, oldSeq); err != nil {
		slog.WarnContext(ctx, "Failed to delete replaced PDU", slog.Any("error", err))
	}
	t.throttle.CountSends(1)
	slog.InfoContext(logging.ContextWithMessageID(ctx, entry.MessageID), "Resent throttled PDU",
		slog.Uint64("old_seq", uint64(oldSeq)),
		slog.Uint64("new_seq", uint64(newSeq)),
	)
	return 1, nil
}

// ==============================================================
// Events
// ==============================================================

func (t *Transceiver) publishReport(ctx context.Context, r processor.DeliveryReport) {
	ctx = logging.ContextWithSMSCMessageID(ctx, r.SMSCMessageID)
	userID, err := t.stash.RemoteMessageID(ctx, r.SMSCMessageID)
	if err != nil {
		slog.WarnContext(ctx, "Delivery report for unknown SMSC message id", slog.Any("error", err))
	}
	ev := message.NewDeliveryReport(t.cfg.TransportName, userID, r.SMSCMessageID, r.Status)
	ev.TransportMetadata = message.Metadata{"stat": r.Stat}
	_ = t.publishEvent(ctx, ev)
}

func (t *Transceiver) publishNack(ctx context.Context, messageID, reason string) error {
	return t.publishEvent(ctx, message.NewNack(t.cfg.TransportName, messageID, reason))
}

func (t *Transceiver) publishEvent(ctx context.Context, ev message.Event) error {
	if err := t.pub.PublishEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish event",
			slog.String("event_type", ev.EventType),
			slog.Any("error", err),
		)
		return err
	}
	t.metrics.Published(t.cfg.Name, ev.EventType)
	slog.InfoContext(ctx, "Event published",
		slog.String("event_type", ev.EventType),
		slog.String("user_message_id", ev.UserMessageID),
	)
	return nil
}

var (
	_ Handler          = (*Transceiver)(nil)
	_ processor.Sender = (*Transceiver)(nil)
	_ Link             = (*Session)(nil)
)
