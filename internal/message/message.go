// Package message defines the JSON documents exchanged with the message bus.
package message

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/thrillee/esmelink/pkg/codes"
)

// Metadata is transport specific data carried alongside a message.
type Metadata map[string]any

const (
	MetaSessionInfo = "session_info"
	MetaDataCoding  = "data_coding"
	MetaSMSCID      = "smsc_message_id"
)

// Outbound is a message the application asks the transport to send.
type Outbound struct {
	MessageID         string   `json:"message_id"`
	ToAddr            string   `json:"to_addr"`
	FromAddr          string   `json:"from_addr"`
	Content           string   `json:"content"`
	SessionEvent      string   `json:"session_event,omitempty"`
	TransportType     string   `json:"transport_type,omitempty"`
	TransportMetadata Metadata `json:"transport_metadata,omitempty"`
	InReplyTo         string   `json:"in_reply_to,omitempty"`
}

// IsUSSD reports whether m should be submitted as a USSD message.
func (m Outbound) IsUSSD() bool {
	return m.TransportType == codes.TransportUSSD
}

// Inbound is a message received from the SMSC.
type Inbound struct {
	MessageID         string    `json:"message_id"`
	ToAddr            string    `json:"to_addr"`
	FromAddr          string    `json:"from_addr"`
	Content           string    `json:"content"`
	SessionEvent      string    `json:"session_event,omitempty"`
	TransportName     string    `json:"transport_name"`
	TransportType     string    `json:"transport_type"`
	TransportMetadata Metadata  `json:"transport_metadata,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Event reports the outcome of an outbound message.
type Event struct {
	EventID           string    `json:"event_id"`
	EventType         string    `json:"event_type"`
	UserMessageID     string    `json:"user_message_id"`
	SentMessageID     string    `json:"sent_message_id,omitempty"`
	NackReason        string    `json:"nack_reason,omitempty"`
	DeliveryStatus    string    `json:"delivery_status,omitempty"`
	TransportName     string    `json:"transport_name"`
	TransportMetadata Metadata  `json:"transport_metadata,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewInbound stamps a fresh id and timestamp.
func NewInbound(transport, transportType, from, to, content string) Inbound {
	return Inbound{
		MessageID:     uuid.NewString(),
		FromAddr:      from,
		ToAddr:        to,
		Content:       content,
		TransportName: transport,
		TransportType: transportType,
		Timestamp:     time.Now().UTC(),
	}
}

func NewAck(transport, userMessageID, sentMessageID string) Event {
	e := newEvent(transport, codes.EventAck, userMessageID)
	e.SentMessageID = sentMessageID
	return e
}

func NewNack(transport, userMessageID, reason string) Event {
	e := newEvent(transport, codes.EventNack, userMessageID)
	e.NackReason = reason
	return e
}

// NewDeliveryReport builds a delivery_report event. smscMessageID is the id
// the SMSC assigned; userMessageID may be empty when it can no longer be
// correlated.
func NewDeliveryReport(transport, userMessageID, smscMessageID, status string) Event {
	e := newEvent(transport, codes.EventDeliveryReport, userMessageID)
	e.SentMessageID = smscMessageID
	e.DeliveryStatus = status
	return e
}

func newEvent(transport, eventType, userMessageID string) Event {
	return Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		UserMessageID: userMessageID,
		TransportName: transport,
		Timestamp:     time.Now().UTC(),
	}
}

// SessionInfo is the USSD session state carried between inbound and outbound
// messages of one session.
type SessionInfo struct {
	SessionIdentifier uint16
	EndSession        bool
}

// SessionInfoFrom reads session info from metadata. JSON round trips turn the
// numbers into float64, so several shapes are accepted.
func SessionInfoFrom(md Metadata) (SessionInfo, bool) {
	raw, ok := md[MetaSessionInfo]
	if !ok {
		return SessionInfo{}, false
	}
	switch v := raw.(type) {
	case SessionInfo:
		return v, true
	case map[string]any:
		id, ok := toUint16(v["session_identifier"])
		if !ok {
			return SessionInfo{}, false
		}
		end, _ := v["end_session"].(bool)
		return SessionInfo{SessionIdentifier: id, EndSession: end}, true
	}
	return SessionInfo{}, false
}

// Map renders s in the JSON shape used on the bus.
func (s SessionInfo) Map() map[string]any {
	return map[string]any{
		"session_identifier": int(s.SessionIdentifier),
		"end_session":        s.EndSession,
	}
}

func toUint16(v any) (uint16, bool) {
	switch n := v.(type) {
	case float64:
		return uint16(n), n >= 0 && n <= 0xFFFF
	case int:
		return uint16(n), n >= 0 && n <= 0xFFFF
	case uint16:
		return n, true
	case string:
		u, err := strconv.ParseUint(n, 0, 16)
		return uint16(u), err == nil
	}
	return 0, false
}
