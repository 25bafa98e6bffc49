package pdu

// Builders return PDUs without a sequence number; the sender assigns one
// from the sequence generator just before transmission.

// NewBind builds a bind request. id must be one of the three bind commands.
func NewBind(id CommandID, b Bind) *PDU {
	b.ID = id
	return &PDU{Body: &b}
}

func NewBindResp(req CommandID, seq uint32, status Status, systemID string) *PDU {
	return &PDU{Status: status, Sequence: seq, Body: &BindResp{ID: req.Response(), SystemID: systemID}}
}

func NewUnbind() *PDU {
	return &PDU{Body: &Empty{ID: Unbind}}
}

func NewUnbindResp(seq uint32) *PDU {
	return &PDU{Sequence: seq, Body: &Empty{ID: UnbindResp}}
}

func NewEnquireLink() *PDU {
	return &PDU{Body: &Empty{ID: EnquireLink}}
}

func NewEnquireLinkResp(seq uint32) *PDU {
	return &PDU{Sequence: seq, Body: &Empty{ID: EnquireLinkResp}}
}

func NewGenericNack(seq uint32, status Status) *PDU {
	return &PDU{Status: status, Sequence: seq, Body: &Empty{ID: GenericNack}}
}

func NewSubmitSM(sm SM) *PDU {
	sm.ID = SubmitSM
	return &PDU{Body: &sm}
}

func NewSubmitSMResp(seq uint32, status Status, messageID string) *PDU {
	return &PDU{Status: status, Sequence: seq, Body: &SMResp{ID: SubmitSMResp, MessageID: messageID}}
}

func NewDeliverSM(sm SM) *PDU {
	sm.ID = DeliverSM
	return &PDU{Body: &sm}
}

func NewDeliverSMResp(seq uint32, status Status) *PDU {
	return &PDU{Status: status, Sequence: seq, Body: &SMResp{ID: DeliverSMResp}}
}

func NewQuerySM(q Query) *PDU {
	return &PDU{Body: &q}
}

func NewQuerySMResp(seq uint32, status Status, q QueryResp) *PDU {
	return &PDU{Status: status, Sequence: seq, Body: &q}
}

// ShortMessage returns the submit_sm/deliver_sm body of p, or nil.
func (p *PDU) ShortMessage() *SM {
	sm, _ := p.Body.(*SM)
	return sm
}

// MessageID returns the message_id of a submit_sm_resp, deliver_sm_resp or
// query_sm_resp.
func (p *PDU) MessageID() string {
	switch b := p.Body.(type) {
	case *SMResp:
		return b.MessageID
	case *QueryResp:
		return b.MessageID
	}
	return ""
}
