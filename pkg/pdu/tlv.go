package pdu

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Tag identifies an optional (TLV) parameter.
type Tag uint16

const (
	TagDestAddrSubunit      Tag = 0x0005
	TagSourceAddrSubunit    Tag = 0x000D
	TagPayloadType          Tag = 0x0019
	TagReceiptedMessageID   Tag = 0x001E
	TagUserMessageReference Tag = 0x0204
	TagSourcePort           Tag = 0x020A
	TagDestinationPort      Tag = 0x020B
	TagSarMsgRefNum         Tag = 0x020C
	TagSarTotalSegments     Tag = 0x020E
	TagSarSegmentSeqnum     Tag = 0x020F
	TagSCInterfaceVersion   Tag = 0x0210
	TagNetworkErrorCode     Tag = 0x0423
	TagMessagePayload       Tag = 0x0424
	TagMoreMessagesToSend   Tag = 0x0426
	TagMessageState         Tag = 0x0427
	TagUSSDServiceOp        Tag = 0x0501
	TagITSReplyType         Tag = 0x1380
	TagITSSessionInfo       Tag = 0x1383
)

type tagKind int

const (
	kindOctets tagKind = iota
	kindInt
	kindCString
)

type tagSpec struct {
	name  string
	kind  tagKind
	width int
}

var tagSpecs = map[Tag]tagSpec{
	TagDestAddrSubunit:      {"dest_addr_subunit", kindInt, 1},
	TagSourceAddrSubunit:    {"source_addr_subunit", kindInt, 1},
	TagPayloadType:          {"payload_type", kindInt, 1},
	TagReceiptedMessageID:   {"receipted_message_id", kindCString, 0},
	TagUserMessageReference: {"user_message_reference", kindInt, 2},
	TagSourcePort:           {"source_port", kindInt, 2},
	TagDestinationPort:      {"destination_port", kindInt, 2},
	TagSarMsgRefNum:         {"sar_msg_ref_num", kindInt, 2},
	TagSarTotalSegments:     {"sar_total_segments", kindInt, 1},
	TagSarSegmentSeqnum:     {"sar_segment_seqnum", kindInt, 1},
	TagSCInterfaceVersion:   {"sc_interface_version", kindInt, 1},
	TagNetworkErrorCode:     {"network_error_code", kindOctets, 3},
	TagMessagePayload:       {"message_payload", kindOctets, 0},
	TagMoreMessagesToSend:   {"more_messages_to_send", kindInt, 1},
	TagMessageState:         {"message_state", kindInt, 1},
	TagUSSDServiceOp:        {"ussd_service_op", kindInt, 1},
	TagITSReplyType:         {"its_reply_type", kindInt, 1},
	TagITSSessionInfo:       {"its_session_info", kindInt, 2},
}

func (t Tag) String() string {
	if spec, ok := tagSpecs[t]; ok {
		return spec.name
	}
	return fmt.Sprintf("tlv(0x%04X)", uint16(t))
}

// Options holds the optional parameters of a PDU keyed by tag. Values are the
// raw TLV octets; the accessors decode them according to the tag's type.
type Options map[Tag][]byte

// Has reports whether tag is present.
func (o Options) Has(tag Tag) bool {
	_, ok := o[tag]
	return ok
}

// Bytes returns the raw value of tag.
func (o Options) Bytes(tag Tag) ([]byte, bool) {
	v, ok := o[tag]
	return v, ok
}

// Uint decodes an integer TLV of 1 to 4 octets.
func (o Options) Uint(tag Tag) (uint32, bool) {
	v, ok := o[tag]
	if !ok || len(v) == 0 || len(v) > 4 {
		return 0, false
	}
	var n uint32
	for _, b := range v {
		n = n<<8 | uint32(b)
	}
	return n, true
}

// String decodes a C-Octet String TLV, dropping the terminating NUL.
func (o Options) String(tag Tag) (string, bool) {
	v, ok := o[tag]
	if !ok {
		return "", false
	}
	if n := len(v); n > 0 && v[n-1] == 0 {
		v = v[:n-1]
	}
	return string(v), true
}

// SetBytes stores a raw value for tag.
func (p *PDU) SetBytes(tag Tag, value []byte) {
	if p.Options == nil {
		p.Options = Options{}
	}
	p.Options[tag] = append([]byte(nil), value...)
}

// SetUint stores an integer TLV using the width registered for tag, or four
// octets for unregistered tags.
func (p *PDU) SetUint(tag Tag, value uint32) {
	width := 4
	if spec, ok := tagSpecs[tag]; ok && spec.kind == kindInt {
		width = spec.width
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	p.SetBytes(tag, buf[4-width:])
}

// SetString stores a string TLV. Registered C-Octet String tags get a
// terminating NUL.
func (p *PDU) SetString(tag Tag, value string) {
	b := []byte(value)
	if spec, ok := tagSpecs[tag]; ok && spec.kind == kindCString {
		b = append(b, 0)
	}
	p.SetBytes(tag, b)
}

func (o Options) marshal(w *writer) {
	tags := make([]int, 0, len(o))
	for tag := range o {
		tags = append(tags, int(tag))
	}
	sort.Ints(tags)
	for _, t := range tags {
		v := o[Tag(t)]
		if len(v) > 0xFFFF {
			w.fail(fmt.Errorf("%s: value of %d octets exceeds TLV limit", Tag(t), len(v)))
			return
		}
		w.uint16(uint16(t))
		w.uint16(uint16(len(v)))
		w.octets(v)
	}
}

func readOptions(r *reader) (Options, error) {
	if r.remaining() == 0 {
		return nil, nil
	}
	opts := Options{}
	for r.remaining() > 0 {
		if r.remaining() < 4 {
			return nil, fmt.Errorf("truncated TLV header: %d trailing octets", r.remaining())
		}
		tag := Tag(r.uint16())
		length := int(r.uint16())
		v, err := r.octets(length)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tag, err)
		}
		opts[tag] = v
	}
	return opts, nil
}
