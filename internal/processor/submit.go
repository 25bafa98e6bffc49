package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/thrillee/esmelink/internal/charset"
	"github.com/thrillee/esmelink/internal/message"
	"github.com/thrillee/esmelink/internal/stash"
	"github.com/thrillee/esmelink/pkg/pdu"
	"github.com/thrillee/esmelink/pkg/segmenter"
	"github.com/thrillee/esmelink/pkg/smpphelper"
)

var (
	// ErrTooLong is returned when content does not fit and no long message
	// mode is configured, or needs more than 255 segments.
	ErrTooLong = errors.New("processor: content too long")
	// ErrEncode is returned when content cannot be represented in the
	// configured submit encoding.
	ErrEncode = errors.New("processor: content cannot be encoded")
)

// Mode selects how content longer than one short_message is sent.
type Mode int

const (
	ModeSingle Mode = iota
	ModePayload
	ModeSAR
	ModeUDH
)

func (m Mode) String() string {
	switch m {
	case ModePayload:
		return "payload"
	case ModeSAR:
		return "sar"
	case ModeUDH:
		return "udh"
	default:
		return "single"
	}
}

// ModeFor maps the send_long_messages / send_multipart_sar /
// send_multipart_udh switches to a Mode. Configuration validation keeps
// them exclusive.
func ModeFor(longMessages, sar, udh bool) Mode {
	switch {
	case longMessages:
		return ModePayload
	case sar:
		return ModeSAR
	case udh:
		return ModeUDH
	default:
		return ModeSingle
	}
}

// Sender assigns p a sequence number, caches it against entry and writes it.
// It returns 0 when nothing was cached; otherwise the sequence number is
// valid even when the write fails.
type Sender interface {
	SendSubmit(ctx context.Context, p *pdu.PDU, entry stash.PendingPDU) (uint32, error)
}

// RefSource supplies reference numbers for multipart messages.
type RefSource interface {
	Next(ctx context.Context) (uint32, error)
}

// SubmitProcessor turns an outbound message into submit_sm PDUs.
type SubmitProcessor interface {
	Submit(ctx context.Context, sender Sender, msg message.Outbound) ([]uint32, error)
}

// SubmitConfig holds the addressing and encoding applied to every submit_sm.
type SubmitConfig struct {
	ServiceType        string
	SourceAddrTON      uint8
	SourceAddrNPI      uint8
	DestAddrTON        uint8
	DestAddrNPI        uint8
	RegisteredDelivery uint8
	DataCoding         uint8
	Encoding           charset.Codec
	Mode               Mode
	Dialect            Dialect
}

type DefaultSubmitProcessor struct {
	cfg   SubmitConfig
	refs  RefSource
	stash *stash.Stash
}

func NewSubmitProcessor(cfg SubmitConfig, refs RefSource, st *stash.Stash) *DefaultSubmitProcessor {
	if cfg.Dialect == nil {
		cfg.Dialect = dialects["default"]
	}
	return &DefaultSubmitProcessor{cfg: cfg, refs: refs, stash: st}
}

// Submit implements SubmitProcessor. It returns the sequence numbers used,
// one per PDU, in segment order.
func (s *DefaultSubmitProcessor) Submit(ctx context.Context, sender Sender, msg message.Outbound) ([]uint32, error) {
	content, err := s.encode(msg.Content)
	if err != nil {
		return nil, err
	}

	if segmenter.FitsSingle(content, s.cfg.Mode == ModeSingle) {
		return s.sendOne(ctx, sender, msg, s.newPDU(msg, content))
	}

	switch s.cfg.Mode {
	case ModePayload:
		p := s.newPDU(msg, nil)
		p.SetBytes(pdu.TagMessagePayload, content)
		return s.sendOne(ctx, sender, msg, p)
	case ModeSAR:
		return s.sendSegments(ctx, sender, msg, content, segmenter.NewSARSegmenter())
	case ModeUDH:
		return s.sendSegments(ctx, sender, msg, content, segmenter.NewUDHSegmenter())
	}

	if len(content) > pdu.MaxShortMessage {
		return nil, fmt.Errorf("%w: %d octets and no long message mode configured", ErrTooLong, len(content))
	}
	return s.sendOne(ctx, sender, msg, s.newPDU(msg, content))
}

func (s *DefaultSubmitProcessor) encode(text string) ([]byte, error) {
	if s.cfg.Encoding == nil {
		return []byte(text), nil
	}
	b, err := s.cfg.Encoding.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return b, nil
}

func (s *DefaultSubmitProcessor) newPDU(msg message.Outbound, shortMessage []byte) *pdu.PDU {
	p := pdu.NewSubmitSM(pdu.SM{
		ServiceType:        s.cfg.ServiceType,
		SourceAddrTON:      s.cfg.SourceAddrTON,
		SourceAddrNPI:      s.cfg.SourceAddrNPI,
		SourceAddr:         msg.FromAddr,
		DestAddrTON:        s.cfg.DestAddrTON,
		DestAddrNPI:        s.cfg.DestAddrNPI,
		DestinationAddr:    msg.ToAddr,
		RegisteredDelivery: s.cfg.RegisteredDelivery,
		DataCoding:         s.cfg.DataCoding,
		ShortMessage:       shortMessage,
	})
	if msg.IsUSSD() {
		si, _ := message.SessionInfoFrom(msg.TransportMetadata)
		op, info := s.cfg.Dialect.Outbound(msg.SessionEvent, si)
		p.SetUint(pdu.TagUSSDServiceOp, uint32(op))
		p.SetUint(pdu.TagITSSessionInfo, uint32(info))
	}
	return p
}

func (s *DefaultSubmitProcessor) sendOne(ctx context.Context, sender Sender, msg message.Outbound, p *pdu.PDU) ([]uint32, error) {
	seq, err := sender.SendSubmit(ctx, p, stash.PendingPDU{
		MessageID: msg.MessageID,
		Command:   pdu.SubmitSM.String(),
	})
	if seq == 0 {
		return nil, err
	}
	return []uint32{seq}, err
}

func (s *DefaultSubmitProcessor) sendSegments(ctx context.Context, sender Sender, msg message.Outbound, content []byte, seg segmenter.Segmenter) ([]uint32, error) {
	parts, err := seg.GetSegments(content)
	if err != nil {
		return nil, err
	}
	total := len(parts)
	if total > 0xFF {
		return nil, fmt.Errorf("%w: %d segments", ErrTooLong, total)
	}
	ref, err := s.refs.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("processor: multipart reference: %w", err)
	}
	if err := s.stash.InitMultipart(ctx, msg.MessageID, total); err != nil {
		return nil, fmt.Errorf("processor: track multipart %s: %w", msg.MessageID, err)
	}

	seqs := make([]uint32, 0, total)
	for i, part := range parts {
		var p *pdu.PDU
		if s.cfg.Mode == ModeUDH {
			udh := smpphelper.EncodeConcatenatedUDH(uint8(ref%0xFF), uint8(total), uint8(i+1))
			p = s.newPDU(msg, append(udh, part...))
			p.ShortMessage().ESMClass |= pdu.ESMClassUDHI
		} else {
			p = s.newPDU(msg, part)
			p.SetUint(pdu.TagSarMsgRefNum, ref%0xFFFF)
			p.SetUint(pdu.TagSarTotalSegments, uint32(total))
			p.SetUint(pdu.TagSarSegmentSeqnum, uint32(i+1))
		}
		seq, err := sender.SendSubmit(ctx, p, stash.PendingPDU{
			MessageID: msg.MessageID,
			Command:   pdu.SubmitSM.String(),
			Part:      i + 1,
			Total:     total,
		})
		if seq != 0 {
			seqs = append(seqs, seq)
		}
		if err != nil {
			return seqs, fmt.Errorf("processor: segment %d/%d: %w", i+1, total, err)
		}
	}
	return seqs, nil
}
