// Package processor turns inbound deliver_sm PDUs into bus messages and
// outbound bus messages into submit_sm PDUs.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/thrillee/esmelink/internal/charset"
	"github.com/thrillee/esmelink/internal/message"
	"github.com/thrillee/esmelink/internal/stash"
	"github.com/thrillee/esmelink/pkg/codes"
	"github.com/thrillee/esmelink/pkg/errormapper"
	"github.com/thrillee/esmelink/pkg/pdu"
	"github.com/thrillee/esmelink/pkg/smpphelper"
)

// ErrDecode wraps content that cannot be decoded for its data_coding. The
// deliver_sm is answered with the configured decoding error status.
var ErrDecode = errors.New("processor: deliver_sm content cannot be decoded")

// ResultKind says what a deliver_sm turned into.
type ResultKind int

const (
	// ResultPending is a multipart segment still waiting for its siblings.
	ResultPending ResultKind = iota
	ResultInbound
	ResultDeliveryReport
)

// DeliveryReport is a receipt for a message this transport submitted.
type DeliveryReport struct {
	SMSCMessageID string
	Status        string // codes.Delivery*
	Stat          string // raw receipt stat or message_state name
}

// DeliverResult is the outcome of processing one deliver_sm.
type DeliverResult struct {
	Kind    ResultKind
	Inbound message.Inbound
	Report  DeliveryReport
}

// DeliverProcessor interprets deliver_sm PDUs.
type DeliverProcessor interface {
	Process(ctx context.Context, p *pdu.PDU) (DeliverResult, error)
}

// DeliverConfig configures DefaultDeliverProcessor.
type DeliverConfig struct {
	TransportName string
	Codings       charset.Table
	// StrictDataCoding fails unmapped data_coding values instead of passing
	// the raw bytes through.
	StrictDataCoding bool
	Dialect          Dialect
}

// DefaultDeliverProcessor runs the pipeline: TLV receipt, multipart
// reassembly, USSD, plain message, then receipt text matching.
type DefaultDeliverProcessor struct {
	cfg   DeliverConfig
	stash *stash.Stash
}

func NewDeliverProcessor(cfg DeliverConfig, st *stash.Stash) *DefaultDeliverProcessor {
	if cfg.Codings == nil {
		cfg.Codings = charset.DefaultTable()
	}
	if cfg.Dialect == nil {
		cfg.Dialect = dialects["default"]
	}
	return &DefaultDeliverProcessor{cfg: cfg, stash: st}
}

// receiptPattern matches the delivery receipt text from SMPP 3.4 appendix B.
// Only id and stat are required; SMSCs commonly drop the dates and err.
var receiptPattern = regexp.MustCompile(
	`(?i)id:(?P<id>[^ ]+)(?: +sub:(?P<sub>[^ ]+))?(?: +dlvrd:(?P<dlvrd>[^ ]+))?` +
		`(?: +submit date:(?P<submit_date>\d*))?(?: +done date:(?P<done_date>\d*))?` +
		` +stat:(?P<stat>[A-Z]+)(?: +err:(?P<err>[^ ]+))?`)

// Process implements DeliverProcessor.
func (d *DefaultDeliverProcessor) Process(ctx context.Context, p *pdu.PDU) (DeliverResult, error) {
	sm := p.ShortMessage()
	if sm == nil {
		return DeliverResult{}, fmt.Errorf("processor: %s is not a deliver_sm", p.CommandID())
	}

	if report, ok := reportFromTLVs(p.Options); ok {
		return DeliverResult{Kind: ResultDeliveryReport, Report: report}, nil
	}

	content := sm.ShortMessage
	if payload, ok := p.Options.Bytes(pdu.TagMessagePayload); ok && len(content) == 0 {
		content = payload
	}

	content, complete, err := d.reassemble(ctx, p, sm, content)
	if err != nil {
		return DeliverResult{}, err
	}
	if !complete {
		return DeliverResult{Kind: ResultPending}, nil
	}

	text, err := d.decode(ctx, sm.DataCoding, content)
	if err != nil {
		return DeliverResult{}, err
	}

	if op, ok := p.Options.Uint(pdu.TagUSSDServiceOp); ok {
		info, hasInfo := p.Options.Uint(pdu.TagITSSessionInfo)
		event, si := d.cfg.Dialect.Inbound(uint8(op), uint16(info), hasInfo)
		msg := d.inbound(codes.TransportUSSD, sm, text)
		msg.SessionEvent = event
		msg.TransportMetadata[message.MetaSessionInfo] = si.Map()
		return DeliverResult{Kind: ResultInbound, Inbound: msg}, nil
	}

	if report, ok := reportFromText(text); ok {
		return DeliverResult{Kind: ResultDeliveryReport, Report: report}, nil
	}
	return DeliverResult{Kind: ResultInbound, Inbound: d.inbound(codes.TransportSMS, sm, text)}, nil
}

func (d *DefaultDeliverProcessor) inbound(transportType string, sm *pdu.SM, text string) message.Inbound {
	msg := message.NewInbound(d.cfg.TransportName, transportType, sm.SourceAddr, sm.DestinationAddr, text)
	msg.TransportMetadata = message.Metadata{message.MetaDataCoding: int(sm.DataCoding)}
	return msg
}

// reassemble returns content unchanged for single messages. For a segment
// it buffers the raw bytes and reports complete once all parts are in.
func (d *DefaultDeliverProcessor) reassemble(ctx context.Context, p *pdu.PDU, sm *pdu.SM, content []byte) ([]byte, bool, error) {
	var ref, total, seq uint32
	switch {
	case p.Options.Has(pdu.TagSarMsgRefNum) && p.Options.Has(pdu.TagSarTotalSegments) && p.Options.Has(pdu.TagSarSegmentSeqnum):
		ref, _ = p.Options.Uint(pdu.TagSarMsgRefNum)
		total, _ = p.Options.Uint(pdu.TagSarTotalSegments)
		seq, _ = p.Options.Uint(pdu.TagSarSegmentSeqnum)
	case sm.ESMClass&pdu.ESMClassUDHI != 0:
		info, payload, ok := smpphelper.ParseConcatenatedUDH(content)
		if !ok {
			return content, true, nil
		}
		ref, total, seq = uint32(info.Ref), uint32(info.Total), uint32(info.Seq)
		content = payload
	default:
		return content, true, nil
	}
	if total <= 1 {
		return content, true, nil
	}

	key := fmt.Sprintf("%s:%s:%d:%d", sm.SourceAddr, sm.DestinationAddr, ref, total)
	joined, done, err := d.stash.AddInboundPart(ctx, key, int(seq), int(total), content)
	if err != nil {
		return nil, false, fmt.Errorf("processor: buffer part %d/%d of %s: %w", seq, total, key, err)
	}
	if !done {
		slog.DebugContext(ctx, "Buffered multipart segment",
			slog.String("ref", key),
			slog.Uint64("part", uint64(seq)),
			slog.Uint64("total", uint64(total)),
		)
	}
	return joined, done, nil
}

func (d *DefaultDeliverProcessor) decode(ctx context.Context, dataCoding uint8, content []byte) (string, error) {
	text, err := d.cfg.Codings.Decode(dataCoding, content)
	switch {
	case err == nil:
		return text, nil
	case errors.Is(err, charset.ErrUnknownCoding) && !d.cfg.StrictDataCoding:
		slog.WarnContext(ctx, "Unmapped data_coding, passing content through undecoded",
			slog.Int("data_coding", int(dataCoding)),
		)
		return string(content), nil
	default:
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
}

func reportFromTLVs(opts pdu.Options) (DeliveryReport, bool) {
	id, ok := opts.String(pdu.TagReceiptedMessageID)
	if !ok {
		return DeliveryReport{}, false
	}
	state, ok := opts.Uint(pdu.TagMessageState)
	if !ok {
		return DeliveryReport{}, false
	}
	ms := pdu.MessageState(state)
	return DeliveryReport{
		SMSCMessageID: id,
		Status:        errormapper.DeliveryStatusFromState(ms),
		Stat:          ms.String(),
	}, true
}

func reportFromText(text string) (DeliveryReport, bool) {
	m := receiptPattern.FindStringSubmatch(text)
	if m == nil {
		return DeliveryReport{}, false
	}
	id := m[receiptPattern.SubexpIndex("id")]
	stat := strings.ToUpper(m[receiptPattern.SubexpIndex("stat")])
	return DeliveryReport{
		SMSCMessageID: id,
		Status:        errormapper.DeliveryStatusFromReceipt(stat),
		Stat:          stat,
	}, true
}
