package processor

import (
	"fmt"

	"github.com/thrillee/esmelink/internal/message"
	"github.com/thrillee/esmelink/pkg/codes"
)

// USSD service operations (ussd_service_op TLV).
const (
	OpPSSDIndication uint8 = 0x00
	OpPSSRIndication uint8 = 0x01
	OpUSSRRequest    uint8 = 0x02
	OpUSSNRequest    uint8 = 0x03
	OpPSSDResponse   uint8 = 0x10
	OpPSSRResponse   uint8 = 0x11
	OpUSSRConfirm    uint8 = 0x12
	OpUSSNConfirm    uint8 = 0x13
	OpRelease        uint8 = 0x81
)

// Dialect translates between an SMSC vendor's USSD TLVs and session events.
type Dialect interface {
	Name() string
	// Inbound derives the session event and session info from a deliver_sm's
	// ussd_service_op and its_session_info values.
	Inbound(op uint8, info uint16, hasInfo bool) (string, message.SessionInfo)
	// Outbound returns the ussd_service_op and its_session_info for a reply.
	Outbound(sessionEvent string, si message.SessionInfo) (op uint8, info uint16)
}

// tableDialect covers the vendor variations seen so far: which op codes mean
// what, and whether the low bit of its_session_info is the end-of-session flag.
type tableDialect struct {
	name       string
	events     map[uint8]string
	continueOp uint8
	closeOp    uint8
	endBit     bool
}

func (d tableDialect) Name() string { return d.name }

func (d tableDialect) Inbound(op uint8, info uint16, hasInfo bool) (string, message.SessionInfo) {
	si := message.SessionInfo{SessionIdentifier: info}
	if hasInfo && d.endBit {
		si = message.SessionInfo{SessionIdentifier: info &^ 1, EndSession: info&1 == 1}
	}
	event, ok := d.events[op]
	if !ok {
		event = codes.SessionResume
	}
	if si.EndSession {
		event = codes.SessionClose
	}
	if event == codes.SessionClose {
		si.EndSession = true
	}
	return event, si
}

func (d tableDialect) Outbound(sessionEvent string, si message.SessionInfo) (uint8, uint16) {
	info := si.SessionIdentifier
	if sessionEvent == codes.SessionClose {
		if d.endBit {
			info |= 1
		}
		return d.closeOp, info
	}
	if d.endBit {
		info &^= 1
	}
	return d.continueOp, info
}

var dialects = map[string]Dialect{
	"default": tableDialect{
		name: "default",
		events: map[uint8]string{
			OpPSSRIndication: codes.SessionNew,
			OpUSSRConfirm:    codes.SessionResume,
			OpPSSRResponse:   codes.SessionClose,
			OpUSSNConfirm:    codes.SessionClose,
		},
		continueOp: OpUSSRRequest,
		closeOp:    OpPSSRResponse,
		endBit:     true,
	},
	"sixdee": tableDialect{
		name: "sixdee",
		events: map[uint8]string{
			OpPSSDIndication: codes.SessionNew,
			OpPSSRIndication: codes.SessionNew,
			OpUSSRConfirm:    codes.SessionResume,
			OpPSSRResponse:   codes.SessionClose,
			OpRelease:        codes.SessionClose,
		},
		continueOp: OpUSSRRequest,
		closeOp:    OpRelease,
		endBit:     true,
	},
	"mica": tableDialect{
		name: "mica",
		events: map[uint8]string{
			OpPSSRIndication: codes.SessionNew,
			OpUSSRConfirm:    codes.SessionResume,
			OpPSSRResponse:   codes.SessionClose,
			OpUSSNConfirm:    codes.SessionClose,
		},
		continueOp: OpUSSRRequest,
		closeOp:    OpPSSRResponse,
	},
}

// LookupDialect returns the named dialect.
func LookupDialect(name string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("processor: unknown ussd dialect %q", name)
	}
	return d, nil
}
