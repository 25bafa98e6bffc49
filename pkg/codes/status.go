package codes

// Bind Status Codes
const (
	StatusDisconnected  = "disconnected"
	StatusConnecting    = "connecting"
	StatusBinding       = "binding"
	StatusBound         = "bound"
	StatusUnbinding     = "unbinding"
	StatusBindingFailed = "binding_failed"
	StatusStopped       = "stopped" // reconnect attempts exhausted
)

// Bind Types
const (
	BindTypeTransmitter = "tx"
	BindTypeReceiver    = "rx"
	BindTypeTransceiver = "trx"
)

// Event Types published on the bus
const (
	EventAck            = "ack"
	EventNack           = "nack"
	EventDeliveryReport = "delivery_report"
)

// Delivery Statuses carried by delivery_report events
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Session Events for USSD messages
const (
	SessionNew    = "new"
	SessionResume = "resume"
	SessionClose  = "close"
)

// Transport Types
const (
	TransportSMS  = "sms"
	TransportUSSD = "ussd"
)

// Nack Reasons that are not SMSC statuses
const (
	NackNotBound        = "transport not bound"
	NackTooLong         = "message too long for a single submit_sm"
	NackEncodingFailure = "content cannot be encoded"
	NackSubmitFailure   = "submit failed"
)
