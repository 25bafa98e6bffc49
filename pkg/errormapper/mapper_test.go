package errormapper

import (
	"testing"

	"github.com/thrillee/esmelink/pkg/codes"
	"github.com/thrillee/esmelink/pkg/pdu"
)

func TestClassifySubmit(t *testing.T) {
	tests := []struct {
		status pdu.Status
		want   Class
	}{
		{pdu.StatusOK, ClassOK},
		{pdu.StatusThrottled, ClassThrottled},
		{pdu.StatusMsgQueueFull, ClassThrottled},
		{pdu.StatusInvalidDstAddr, ClassPermanent},
		{pdu.StatusSystemError, ClassPermanent},
	}
	for _, tt := range tests {
		if got := ClassifySubmit(tt.status); got != tt.want {
			t.Errorf("ClassifySubmit(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestDeliveryStatusFromState(t *testing.T) {
	want := map[pdu.MessageState]string{
		1: codes.DeliveryPending,
		2: codes.DeliveryDelivered,
		3: codes.DeliveryFailed,
		4: codes.DeliveryFailed,
		5: codes.DeliveryFailed,
		6: codes.DeliveryDelivered,
		7: codes.DeliveryPending,
		8: codes.DeliveryFailed,
	}
	for state, status := range want {
		if got := DeliveryStatusFromState(state); got != status {
			t.Errorf("DeliveryStatusFromState(%s) = %q, want %q", state, got, status)
		}
	}
}

func TestResolveStatus(t *testing.T) {
	if got := ResolveStatus("ESME_RX_P_APPN", pdu.StatusDeliveryFailure); got != pdu.StatusPermAppError {
		t.Errorf("ResolveStatus() = %s", got)
	}
	if got := ResolveStatus("NOT_A_STATUS", pdu.StatusDeliveryFailure); got != pdu.StatusDeliveryFailure {
		t.Errorf("ResolveStatus() fallback = %s", got)
	}
}
