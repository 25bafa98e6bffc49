package errormapper

import "github.com/thrillee/esmelink/pkg/codes"

// Delivery receipt "stat:" values as sent in receipt text.
const (
	StatusCodeDelivered     = "DELIVRD"
	StatusCodeAccepted      = "ACCEPTD"
	StatusCodeEnroute       = "ENROUTE"
	StatusCodeUnknown       = "UNKNOWN"
	StatusCodeRejected      = "REJECTD"
	StatusCodeExpired       = "EXPIRED"
	StatusCodeDeleted       = "DELETED"
	StatusCodeUndeliverable = "UNDELIV"
)

var receiptStatus = map[string]string{
	StatusCodeDelivered:     codes.DeliveryDelivered,
	StatusCodeAccepted:      codes.DeliveryDelivered,
	StatusCodeEnroute:       codes.DeliveryPending,
	StatusCodeUnknown:       codes.DeliveryPending,
	StatusCodeRejected:      codes.DeliveryFailed,
	StatusCodeExpired:       codes.DeliveryFailed,
	StatusCodeDeleted:       codes.DeliveryFailed,
	StatusCodeUndeliverable: codes.DeliveryFailed,
}

// DeliveryStatusFromReceipt maps a receipt "stat:" token to a delivery status.
// Unrecognised tokens are reported as pending.
func DeliveryStatusFromReceipt(stat string) string {
	if s, ok := receiptStatus[stat]; ok {
		return s
	}
	return codes.DeliveryPending
}
