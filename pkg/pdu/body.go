package pdu

import "fmt"

// Body is the command-specific part of a PDU. The set of implementations is
// closed: one type per known command family plus Unsupported.
type Body interface {
	CommandID() CommandID
	marshal(w *writer)
	unmarshal(r *reader) error
}

func newBody(id CommandID) Body {
	switch id {
	case BindTransmitter, BindReceiver, BindTransceiver:
		return &Bind{ID: id}
	case BindTransmitterResp, BindReceiverResp, BindTransceiverResp:
		return &BindResp{ID: id}
	case SubmitSM, DeliverSM:
		return &SM{ID: id}
	case SubmitSMResp, DeliverSMResp:
		return &SMResp{ID: id}
	case QuerySM:
		return &Query{}
	case QuerySMResp:
		return &QueryResp{}
	case Unbind, UnbindResp, EnquireLink, EnquireLinkResp, GenericNack:
		return &Empty{ID: id}
	default:
		return &Unsupported{ID: id}
	}
}

// fields reads mandatory parameters in order, keeping the first error.
type fields struct {
	r   *reader
	err error
}

func (f *fields) str(dst *string, name string) {
	if f.err == nil {
		*dst, f.err = f.r.cstring(name)
	}
}

func (f *fields) byte(dst *uint8, name string) {
	if f.err == nil {
		var err error
		if *dst, err = f.r.uint8(); err != nil {
			f.err = fmt.Errorf("%s: %w", name, err)
		}
	}
}

// Bind is bind_transmitter, bind_receiver or bind_transceiver.
type Bind struct {
	ID               CommandID
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion uint8
	AddrTON          uint8
	AddrNPI          uint8
	AddressRange     string
}

func (b *Bind) CommandID() CommandID { return b.ID }

func (b *Bind) marshal(w *writer) {
	w.cstring("system_id", b.SystemID, 16)
	w.cstring("password", b.Password, 9)
	w.cstring("system_type", b.SystemType, 13)
	w.uint8(b.InterfaceVersion)
	w.uint8(b.AddrTON)
	w.uint8(b.AddrNPI)
	w.cstring("address_range", b.AddressRange, 41)
}

func (b *Bind) unmarshal(r *reader) error {
	f := fields{r: r}
	f.str(&b.SystemID, "system_id")
	f.str(&b.Password, "password")
	f.str(&b.SystemType, "system_type")
	f.byte(&b.InterfaceVersion, "interface_version")
	f.byte(&b.AddrTON, "addr_ton")
	f.byte(&b.AddrNPI, "addr_npi")
	f.str(&b.AddressRange, "address_range")
	return f.err
}

// BindResp answers any of the bind requests. Error responses may omit the body.
type BindResp struct {
	ID       CommandID
	SystemID string
}

func (b *BindResp) CommandID() CommandID { return b.ID }

func (b *BindResp) marshal(w *writer) {
	w.cstring("system_id", b.SystemID, 16)
}

func (b *BindResp) unmarshal(r *reader) error {
	if r.remaining() == 0 {
		return nil
	}
	f := fields{r: r}
	f.str(&b.SystemID, "system_id")
	return f.err
}

// SM carries the mandatory parameters shared by submit_sm and deliver_sm.
type SM struct {
	ID                   CommandID
	ServiceType          string
	SourceAddrTON        uint8
	SourceAddrNPI        uint8
	SourceAddr           string
	DestAddrTON          uint8
	DestAddrNPI          uint8
	DestinationAddr      string
	ESMClass             uint8
	ProtocolID           uint8
	PriorityFlag         uint8
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   uint8
	ReplaceIfPresent     uint8
	DataCoding           uint8
	SMDefaultMsgID       uint8
	ShortMessage         []byte
}

// MaxShortMessage is the largest short_message accepted by Pack.
const MaxShortMessage = 254

// ESMClassUDHI marks a short_message that begins with a user data header.
const ESMClassUDHI = 0x40

func (s *SM) CommandID() CommandID { return s.ID }

func (s *SM) marshal(w *writer) {
	w.cstring("service_type", s.ServiceType, 6)
	w.uint8(s.SourceAddrTON)
	w.uint8(s.SourceAddrNPI)
	w.cstring("source_addr", s.SourceAddr, 21)
	w.uint8(s.DestAddrTON)
	w.uint8(s.DestAddrNPI)
	w.cstring("destination_addr", s.DestinationAddr, 21)
	w.uint8(s.ESMClass)
	w.uint8(s.ProtocolID)
	w.uint8(s.PriorityFlag)
	w.cstring("schedule_delivery_time", s.ScheduleDeliveryTime, 17)
	w.cstring("validity_period", s.ValidityPeriod, 17)
	w.uint8(s.RegisteredDelivery)
	w.uint8(s.ReplaceIfPresent)
	w.uint8(s.DataCoding)
	w.uint8(s.SMDefaultMsgID)
	if len(s.ShortMessage) > MaxShortMessage {
		w.fail(fmt.Errorf("short_message: %d octets exceeds %d", len(s.ShortMessage), MaxShortMessage))
		return
	}
	w.uint8(uint8(len(s.ShortMessage)))
	w.octets(s.ShortMessage)
}

func (s *SM) unmarshal(r *reader) error {
	f := fields{r: r}
	f.str(&s.ServiceType, "service_type")
	f.byte(&s.SourceAddrTON, "source_addr_ton")
	f.byte(&s.SourceAddrNPI, "source_addr_npi")
	f.str(&s.SourceAddr, "source_addr")
	f.byte(&s.DestAddrTON, "dest_addr_ton")
	f.byte(&s.DestAddrNPI, "dest_addr_npi")
	f.str(&s.DestinationAddr, "destination_addr")
	f.byte(&s.ESMClass, "esm_class")
	f.byte(&s.ProtocolID, "protocol_id")
	f.byte(&s.PriorityFlag, "priority_flag")
	f.str(&s.ScheduleDeliveryTime, "schedule_delivery_time")
	f.str(&s.ValidityPeriod, "validity_period")
	f.byte(&s.RegisteredDelivery, "registered_delivery")
	f.byte(&s.ReplaceIfPresent, "replace_if_present_flag")
	f.byte(&s.DataCoding, "data_coding")
	f.byte(&s.SMDefaultMsgID, "sm_default_msg_id")
	var n uint8
	f.byte(&n, "sm_length")
	if f.err != nil {
		return f.err
	}
	msg, err := r.octets(int(n))
	if err != nil {
		return fmt.Errorf("short_message: %w", err)
	}
	s.ShortMessage = msg
	return nil
}

// SMResp is submit_sm_resp or deliver_sm_resp.
type SMResp struct {
	ID        CommandID
	MessageID string
}

func (s *SMResp) CommandID() CommandID { return s.ID }

func (s *SMResp) marshal(w *writer) {
	w.cstring("message_id", s.MessageID, 65)
}

func (s *SMResp) unmarshal(r *reader) error {
	if r.remaining() == 0 {
		return nil
	}
	f := fields{r: r}
	f.str(&s.MessageID, "message_id")
	return f.err
}

// Query is query_sm.
type Query struct {
	MessageID     string
	SourceAddrTON uint8
	SourceAddrNPI uint8
	SourceAddr    string
}

func (q *Query) CommandID() CommandID { return QuerySM }

func (q *Query) marshal(w *writer) {
	w.cstring("message_id", q.MessageID, 65)
	w.uint8(q.SourceAddrTON)
	w.uint8(q.SourceAddrNPI)
	w.cstring("source_addr", q.SourceAddr, 21)
}

func (q *Query) unmarshal(r *reader) error {
	f := fields{r: r}
	f.str(&q.MessageID, "message_id")
	f.byte(&q.SourceAddrTON, "source_addr_ton")
	f.byte(&q.SourceAddrNPI, "source_addr_npi")
	f.str(&q.SourceAddr, "source_addr")
	return f.err
}

// QueryResp is query_sm_resp.
type QueryResp struct {
	MessageID    string
	FinalDate    string
	MessageState MessageState
	ErrorCode    uint8
}

func (q *QueryResp) CommandID() CommandID { return QuerySMResp }

func (q *QueryResp) marshal(w *writer) {
	w.cstring("message_id", q.MessageID, 65)
	w.cstring("final_date", q.FinalDate, 17)
	w.uint8(uint8(q.MessageState))
	w.uint8(q.ErrorCode)
}

func (q *QueryResp) unmarshal(r *reader) error {
	if r.remaining() == 0 {
		return nil
	}
	f := fields{r: r}
	var state uint8
	f.str(&q.MessageID, "message_id")
	f.str(&q.FinalDate, "final_date")
	f.byte(&state, "message_state")
	f.byte(&q.ErrorCode, "error_code")
	q.MessageState = MessageState(state)
	return f.err
}

// Empty is a command without mandatory parameters: unbind, enquire_link,
// their responses and generic_nack.
type Empty struct {
	ID CommandID
}

func (e *Empty) CommandID() CommandID { return e.ID }

func (e *Empty) marshal(*writer) {}

func (e *Empty) unmarshal(*reader) error { return nil }

// Unsupported keeps the raw body of a well-framed PDU the codec has no
// schema for.
type Unsupported struct {
	ID  CommandID
	Raw []byte
}

func (u *Unsupported) CommandID() CommandID { return u.ID }

func (u *Unsupported) marshal(w *writer) {
	w.octets(u.Raw)
}

func (u *Unsupported) unmarshal(r *reader) error {
	raw, err := r.octets(r.remaining())
	u.Raw = raw
	return err
}
