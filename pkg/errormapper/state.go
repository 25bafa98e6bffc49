package errormapper

import (
	"github.com/thrillee/esmelink/pkg/codes"
	"github.com/thrillee/esmelink/pkg/pdu"
)

var messageStateStatus = map[pdu.MessageState]string{
	pdu.StateEnroute:       codes.DeliveryPending,
	pdu.StateDelivered:     codes.DeliveryDelivered,
	pdu.StateExpired:       codes.DeliveryFailed,
	pdu.StateDeleted:       codes.DeliveryFailed,
	pdu.StateUndeliverable: codes.DeliveryFailed,
	pdu.StateAccepted:      codes.DeliveryDelivered,
	pdu.StateUnknown:       codes.DeliveryPending,
	pdu.StateRejected:      codes.DeliveryFailed,
}

// DeliveryStatusFromState maps a message_state TLV value to a delivery status.
func DeliveryStatusFromState(state pdu.MessageState) string {
	if s, ok := messageStateStatus[state]; ok {
		return s
	}
	return codes.DeliveryPending
}
