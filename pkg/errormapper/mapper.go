package errormapper

import (
	"log/slog"

	"github.com/thrillee/esmelink/pkg/pdu"
)

// Class groups submit_sm_resp statuses by how the transport reacts to them.
type Class int

const (
	ClassOK Class = iota
	ClassThrottled
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassThrottled:
		return "throttled"
	default:
		return "permanent"
	}
}

// throttleStatuses are backpressure signals, not failures.
var throttleStatuses = map[pdu.Status]bool{
	pdu.StatusThrottled:    true,
	pdu.StatusMsgQueueFull: true,
}

// ClassifySubmit maps a submit_sm_resp (or generic_nack) status to a Class.
func ClassifySubmit(status pdu.Status) Class {
	switch {
	case status == pdu.StatusOK:
		return ClassOK
	case throttleStatuses[status]:
		return ClassThrottled
	default:
		return ClassPermanent
	}
}

// NackReason renders a failed status for a nack event.
func NackReason(status pdu.Status) string {
	return status.String()
}

// ResolveStatus turns a configured status name into a Status, falling back to
// fallback when the name is unknown.
func ResolveStatus(name string, fallback pdu.Status) pdu.Status {
	if s, ok := pdu.StatusByName(name); ok {
		return s
	}
	slog.Warn("Unknown SMPP status name, using fallback",
		slog.String("name", name),
		slog.String("fallback", fallback.String()),
	)
	return fallback
}
