package pdu

import "fmt"

// Status is the command_status header field.
type Status uint32

const (
	StatusOK                Status = 0x00000000 // ESME_ROK
	StatusInvalidMsgLen     Status = 0x00000001
	StatusInvalidCmdLen     Status = 0x00000002
	StatusInvalidCmdID      Status = 0x00000003
	StatusInvalidBindStatus Status = 0x00000004
	StatusAlreadyBound      Status = 0x00000005
	StatusInvalidPriority   Status = 0x00000006
	StatusInvalidRegDlvFlg  Status = 0x00000007
	StatusSystemError       Status = 0x00000008
	StatusInvalidSrcAddr    Status = 0x0000000A
	StatusInvalidDstAddr    Status = 0x0000000B
	StatusInvalidMsgID      Status = 0x0000000C
	StatusBindFailed        Status = 0x0000000D
	StatusInvalidPassword   Status = 0x0000000E
	StatusInvalidSystemID   Status = 0x0000000F
	StatusCancelFailed      Status = 0x00000011
	StatusReplaceFailed     Status = 0x00000013
	StatusMsgQueueFull      Status = 0x00000014 // ESME_RMSGQFUL
	StatusInvalidServType   Status = 0x00000015
	StatusInvalidNumDests   Status = 0x00000033
	StatusInvalidDLName     Status = 0x00000034
	StatusInvalidDestFlag   Status = 0x00000040
	StatusInvalidSubRep     Status = 0x00000042
	StatusInvalidEsmClass   Status = 0x00000043
	StatusCannotSubmitDL    Status = 0x00000044
	StatusSubmitFailed      Status = 0x00000045
	StatusInvalidSrcTON     Status = 0x00000048
	StatusInvalidSrcNPI     Status = 0x00000049
	StatusInvalidDstTON     Status = 0x00000050
	StatusInvalidDstNPI     Status = 0x00000051
	StatusInvalidSysType    Status = 0x00000053
	StatusInvalidRepFlag    Status = 0x00000054
	StatusInvalidNumMsgs    Status = 0x00000055
	StatusThrottled         Status = 0x00000058 // ESME_RTHROTTLED
	StatusInvalidSched      Status = 0x00000061
	StatusInvalidExpiry     Status = 0x00000062
	StatusInvalidDftMsgID   Status = 0x00000063
	StatusTempAppError      Status = 0x00000064 // ESME_RX_T_APPN
	StatusPermAppError      Status = 0x00000065 // ESME_RX_P_APPN
	StatusRejectAppError    Status = 0x00000066 // ESME_RX_R_APPN
	StatusQueryFailed       Status = 0x00000067
	StatusInvalidOptParam   Status = 0x000000C0
	StatusOptParamNotAllwd  Status = 0x000000C1
	StatusInvalidParamLen   Status = 0x000000C2
	StatusMissingOptParam   Status = 0x000000C3
	StatusInvalidOptParVal  Status = 0x000000C4
	StatusDeliveryFailure   Status = 0x000000FE // ESME_RDELIVERYFAILURE
	StatusUnknownError      Status = 0x000000FF
)

var statusNames = map[Status]string{
	StatusOK:                "ESME_ROK",
	StatusInvalidMsgLen:     "ESME_RINVMSGLEN",
	StatusInvalidCmdLen:     "ESME_RINVCMDLEN",
	StatusInvalidCmdID:      "ESME_RINVCMDID",
	StatusInvalidBindStatus: "ESME_RINVBNDSTS",
	StatusAlreadyBound:      "ESME_RALYBND",
	StatusInvalidPriority:   "ESME_RINVPRTFLG",
	StatusInvalidRegDlvFlg:  "ESME_RINVREGDLVFLG",
	StatusSystemError:       "ESME_RSYSERR",
	StatusInvalidSrcAddr:    "ESME_RINVSRCADR",
	StatusInvalidDstAddr:    "ESME_RINVDSTADR",
	StatusInvalidMsgID:      "ESME_RINVMSGID",
	StatusBindFailed:        "ESME_RBINDFAIL",
	StatusInvalidPassword:   "ESME_RINVPASWD",
	StatusInvalidSystemID:   "ESME_RINVSYSID",
	StatusCancelFailed:      "ESME_RCANCELFAIL",
	StatusReplaceFailed:     "ESME_RREPLACEFAIL",
	StatusMsgQueueFull:      "ESME_RMSGQFUL",
	StatusInvalidServType:   "ESME_RINVSERTYP",
	StatusInvalidNumDests:   "ESME_RINVNUMDESTS",
	StatusInvalidDLName:     "ESME_RINVDLNAME",
	StatusInvalidDestFlag:   "ESME_RINVDESTFLAG",
	StatusInvalidSubRep:     "ESME_RINVSUBREP",
	StatusInvalidEsmClass:   "ESME_RINVESMCLASS",
	StatusCannotSubmitDL:    "ESME_RCNTSUBDL",
	StatusSubmitFailed:      "ESME_RSUBMITFAIL",
	StatusInvalidSrcTON:     "ESME_RINVSRCTON",
	StatusInvalidSrcNPI:     "ESME_RINVSRCNPI",
	StatusInvalidDstTON:     "ESME_RINVDSTTON",
	StatusInvalidDstNPI:     "ESME_RINVDSTNPI",
	StatusInvalidSysType:    "ESME_RINVSYSTYP",
	StatusInvalidRepFlag:    "ESME_RINVREPFLAG",
	StatusInvalidNumMsgs:    "ESME_RINVNUMMSGS",
	StatusThrottled:         "ESME_RTHROTTLED",
	StatusInvalidSched:      "ESME_RINVSCHED",
	StatusInvalidExpiry:     "ESME_RINVEXPIRY",
	StatusInvalidDftMsgID:   "ESME_RINVDFTMSGID",
	StatusTempAppError:      "ESME_RX_T_APPN",
	StatusPermAppError:      "ESME_RX_P_APPN",
	StatusRejectAppError:    "ESME_RX_R_APPN",
	StatusQueryFailed:       "ESME_RQUERYFAIL",
	StatusInvalidOptParam:   "ESME_RINVOPTPARSTREAM",
	StatusOptParamNotAllwd:  "ESME_ROPTPARNOTALLWD",
	StatusInvalidParamLen:   "ESME_RINVPARLEN",
	StatusMissingOptParam:   "ESME_RMISSINGOPTPARAM",
	StatusInvalidOptParVal:  "ESME_RINVOPTPARAMVAL",
	StatusDeliveryFailure:   "ESME_RDELIVERYFAILURE",
	StatusUnknownError:      "ESME_RUNKNOWNERR",
}

var statusByName = func() map[string]Status {
	m := make(map[string]Status, len(statusNames))
	for s, name := range statusNames {
		m[name] = s
	}
	return m
}()

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ESME_UNKNOWN(0x%08X)", uint32(s))
}

// StatusByName resolves a standard status name such as "ESME_RTHROTTLED".
func StatusByName(name string) (Status, bool) {
	s, ok := statusByName[name]
	return s, ok
}

// MessageState is the message_state value carried by delivery receipts and
// query_sm_resp.
type MessageState uint8

const (
	StateEnroute       MessageState = 1
	StateDelivered     MessageState = 2
	StateExpired       MessageState = 3
	StateDeleted       MessageState = 4
	StateUndeliverable MessageState = 5
	StateAccepted      MessageState = 6
	StateUnknown       MessageState = 7
	StateRejected      MessageState = 8
)

var stateNames = map[MessageState]string{
	StateEnroute:       "ENROUTE",
	StateDelivered:     "DELIVERED",
	StateExpired:       "EXPIRED",
	StateDeleted:       "DELETED",
	StateUndeliverable: "UNDELIVERABLE",
	StateAccepted:      "ACCEPTED",
	StateUnknown:       "UNKNOWN",
	StateRejected:      "REJECTED",
}

func (m MessageState) String() string {
	if name, ok := stateNames[m]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", uint8(m))
}
