package pdu

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	gpdu "github.com/linxGnu/gosmpp/pdu"
)

func samplePDUs() []*PDU {
	bind := NewBind(BindTransceiver, Bind{
		SystemID: "esme", Password: "secret", SystemType: "VMA",
		InterfaceVersion: 0x34, AddrTON: 1, AddrNPI: 1, AddressRange: "",
	})
	bind.Sequence = 1

	submit := NewSubmitSM(SM{
		ServiceType: "", SourceAddrTON: 5, SourceAddr: "Acme",
		DestAddrTON: 1, DestAddrNPI: 1, DestinationAddr: "27831234567",
		RegisteredDelivery: 1, DataCoding: 0, ShortMessage: []byte("hello world"),
	})
	submit.Sequence = 42
	submit.SetUint(TagSarMsgRefNum, 0x1234)
	submit.SetUint(TagSarTotalSegments, 3)
	submit.SetUint(TagSarSegmentSeqnum, 2)
	submit.SetUint(TagUserMessageReference, 7)

	ussd := NewSubmitSM(SM{SourceAddr: "*120#", DestinationAddr: "27831234567", ShortMessage: []byte("Menu")})
	ussd.Sequence = 43
	ussd.SetUint(TagUSSDServiceOp, 0x02)
	ussd.SetUint(TagITSSessionInfo, 0x0A01)

	payload := NewSubmitSM(SM{DestinationAddr: "27831234567"})
	payload.Sequence = 44
	payload.SetBytes(TagMessagePayload, bytes.Repeat([]byte{'x'}, 600))

	receipt := NewDeliverSM(SM{SourceAddr: "27831234567", DestinationAddr: "1234", ESMClass: 0x04,
		ShortMessage: []byte("id:abc123 sub:001 dlvrd:001 submit date:2401011200 done date:2401011201 stat:DELIVRD err:000 text:")})
	receipt.Sequence = 7
	receipt.SetString(TagReceiptedMessageID, "abc123")
	receipt.SetUint(TagMessageState, uint32(StateDelivered))

	return []*PDU{
		bind,
		NewBindResp(BindTransceiver, 1, StatusOK, "SMSC"),
		NewBindResp(BindTransmitter, 2, StatusInvalidPassword, ""),
		withSeq(NewUnbind(), 3),
		NewUnbindResp(3),
		withSeq(NewEnquireLink(), 4),
		NewEnquireLinkResp(4),
		NewGenericNack(5, StatusInvalidCmdID),
		submit,
		ussd,
		payload,
		NewSubmitSMResp(42, StatusOK, "smsc-0001"),
		NewSubmitSMResp(43, StatusThrottled, ""),
		receipt,
		NewDeliverSMResp(7, StatusOK),
		withSeq(NewQuerySM(Query{MessageID: "smsc-0001", SourceAddrTON: 1, SourceAddr: "1234"}), 8),
		NewQuerySMResp(8, StatusOK, QueryResp{MessageID: "smsc-0001", FinalDate: "240101120100000+", MessageState: StateDelivered}),
	}
}

func withSeq(p *PDU, seq uint32) *PDU {
	p.Sequence = seq
	return p
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, want := range samplePDUs() {
		t.Run(want.CommandID().String(), func(t *testing.T) {
			b, err := Pack(want)
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			if got := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3]); got != len(b) {
				t.Fatalf("command_length = %d, want %d", got, len(b))
			}
			got, err := Unpack(b)
			if err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip mismatch\n got: %#v\nwant: %#v", got, want)
			}
		})
	}
}

func TestChopStreamChunked(t *testing.T) {
	var stream []byte
	var want []*PDU
	for _, p := range samplePDUs() {
		b, err := Pack(p)
		if err != nil {
			t.Fatalf("Pack() error = %v", err)
		}
		stream = append(stream, b...)
		want = append(want, p)
	}

	for _, chunk := range []int{1, 2, 3, 7, 16, 17, 100, len(stream)} {
		var buf []byte
		var got []*PDU
		for off := 0; off < len(stream); off += chunk {
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			buf = append(buf, stream[off:end]...)
			for {
				raw, rest, ok, err := ChopStream(buf)
				if err != nil {
					t.Fatalf("chunk %d: ChopStream() error = %v", chunk, err)
				}
				if !ok {
					break
				}
				p, err := Unpack(raw)
				if err != nil {
					t.Fatalf("chunk %d: Unpack() error = %v", chunk, err)
				}
				got = append(got, p)
				buf = rest
			}
		}
		if len(buf) != 0 {
			t.Errorf("chunk %d: %d bytes left over", chunk, len(buf))
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("chunk %d: decoded %d PDUs, want %d identical PDUs", chunk, len(got), len(want))
		}
	}
}

func TestChopStreamTwoPDUsOneRead(t *testing.T) {
	a, _ := Pack(withSeq(NewEnquireLink(), 1))
	b, _ := Pack(withSeq(NewEnquireLink(), 2))
	buf := append(append([]byte{}, a...), b...)

	first, rest, ok, err := ChopStream(buf)
	if err != nil || !ok {
		t.Fatalf("first ChopStream() = ok %v, err %v", ok, err)
	}
	second, rest, ok, err := ChopStream(rest)
	if err != nil || !ok {
		t.Fatalf("second ChopStream() = ok %v, err %v", ok, err)
	}
	if !bytes.Equal(first, a) || !bytes.Equal(second, b) {
		t.Errorf("ChopStream split PDUs incorrectly")
	}
	if _, _, ok, _ := ChopStream(rest); ok || len(rest) != 0 {
		t.Errorf("expected empty remainder, got %d bytes", len(rest))
	}
}

func TestChopStreamNeedMoreVersusInvalid(t *testing.T) {
	full, _ := Pack(withSeq(NewEnquireLink(), 9))

	if _, rest, ok, err := ChopStream(full[:10]); ok || err != nil || len(rest) != 10 {
		t.Errorf("short header: ok=%v err=%v rest=%d", ok, err, len(rest))
	}

	sm, _ := Pack(samplePDUs()[8])
	if _, _, ok, err := ChopStream(sm[:len(sm)-1]); ok || err != nil {
		t.Errorf("partial body: ok=%v err=%v, want need-more", ok, err)
	}

	bad := append([]byte{0, 0, 0, 8}, full[4:]...)
	if _, _, _, err := ChopStream(bad); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("length below header: err = %v, want ErrInvalidLength", err)
	}
}

func TestUnpackMalformed(t *testing.T) {
	good, _ := Pack(samplePDUs()[8])

	cases := map[string][]byte{
		"short header":     good[:12],
		"length mismatch":  good[:len(good)-3],
		"truncated tlv":    fixLength(append(append([]byte{}, good...), 0x02)),
		"missing nul":      fixLength(append(append([]byte{}, good[:HeaderLen]...), 'a', 'b', 'c')),
		"sm_length beyond": fixLength(truncateShortMessage(t)),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unpack(b)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Unpack() error = %v, want *DecodeError", err)
			}
		})
	}
}

func truncateShortMessage(t *testing.T) []byte {
	t.Helper()
	p := NewDeliverSM(SM{SourceAddr: "1", DestinationAddr: "2", ShortMessage: []byte("hello")})
	p.Sequence = 1
	b, err := Pack(p)
	if err != nil {
		t.Fatal(err)
	}
	return b[:len(b)-2]
}

func fixLength(b []byte) []byte {
	n := len(b)
	b[0], b[1], b[2], b[3] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
	return b
}

func TestUnpackUnsupportedCommand(t *testing.T) {
	p := &PDU{Sequence: 11, Body: &Unsupported{ID: AlertNotification, Raw: []byte{1, 2, 3}}}
	b, err := Pack(p)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	got, err := Unpack(b)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	u, ok := got.Body.(*Unsupported)
	if !ok {
		t.Fatalf("body = %T, want *Unsupported", got.Body)
	}
	if u.ID != AlertNotification || !bytes.Equal(u.Raw, []byte{1, 2, 3}) {
		t.Errorf("unexpected unsupported body %+v", u)
	}
	if got.CommandID().Known() {
		t.Errorf("alert_notification should not be a known command")
	}
}

func TestPackRejectsOversizedFields(t *testing.T) {
	p := NewSubmitSM(SM{DestinationAddr: "1", ShortMessage: bytes.Repeat([]byte{'a'}, MaxShortMessage+1)})
	if _, err := Pack(p); err == nil {
		t.Errorf("expected error for oversized short_message")
	}
	p = NewBind(BindTransmitter, Bind{SystemID: "a-system-id-that-is-too-long"})
	if _, err := Pack(p); err == nil {
		t.Errorf("expected error for oversized system_id")
	}
}

func TestOptionsAccessors(t *testing.T) {
	p := NewDeliverSM(SM{})
	p.SetString(TagReceiptedMessageID, "abc123")
	p.SetUint(TagMessageState, 2)
	p.SetUint(TagITSSessionInfo, 0xBEEF)

	if v, _ := p.Options.Bytes(TagReceiptedMessageID); !bytes.Equal(v, []byte("abc123\x00")) {
		t.Errorf("receipted_message_id raw = %q", v)
	}
	if s, ok := p.Options.String(TagReceiptedMessageID); !ok || s != "abc123" {
		t.Errorf("String() = %q, %v", s, ok)
	}
	if v, ok := p.Options.Uint(TagMessageState); !ok || v != 2 {
		t.Errorf("message_state = %d, %v", v, ok)
	}
	if v, _ := p.Options.Bytes(TagITSSessionInfo); len(v) != 2 {
		t.Errorf("its_session_info width = %d, want 2", len(v))
	}
	if v, ok := p.Options.Uint(TagITSSessionInfo); !ok || v != 0xBEEF {
		t.Errorf("its_session_info = %#x", v)
	}
	if p.Options.Has(TagUSSDServiceOp) {
		t.Errorf("unexpected ussd_service_op")
	}
}

func TestWireCompatibleWithGosmpp(t *testing.T) {
	submit := NewSubmitSM(SM{SourceAddr: "1234", DestAddrTON: 1, DestAddrNPI: 1, DestinationAddr: "27831234567", ShortMessage: []byte("foo")})
	submit.Sequence = 77
	b, err := Pack(submit)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	parsed, err := gpdu.Parse(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("gosmpp Parse() error = %v", err)
	}
	sm, ok := parsed.(*gpdu.SubmitSM)
	if !ok {
		t.Fatalf("gosmpp parsed %T, want *pdu.SubmitSM", parsed)
	}
	if sm.DestAddr.Address() != "27831234567" || sm.SourceAddr.Address() != "1234" {
		t.Errorf("addresses = %q -> %q", sm.SourceAddr.Address(), sm.DestAddr.Address())
	}
	if msg, err := sm.Message.GetMessage(); err != nil || msg != "foo" {
		t.Errorf("message = %q, %v", msg, err)
	}

	bind := NewBind(BindTransceiver, Bind{SystemID: "esme", Password: "pw", InterfaceVersion: 0x34})
	bind.Sequence = 1
	b, err = Pack(bind)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	parsed, err = gpdu.Parse(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("gosmpp Parse() bind error = %v", err)
	}
	br, ok := parsed.(*gpdu.BindRequest)
	if !ok {
		t.Fatalf("gosmpp parsed %T, want *pdu.BindRequest", parsed)
	}
	if br.SystemID != "esme" || br.Password != "pw" {
		t.Errorf("bind = %q/%q", br.SystemID, br.Password)
	}
}
