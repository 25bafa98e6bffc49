package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.PDU("mtn", "submit_sm", "out")
	m.SubmitResult("mtn", "throttled")
	m.SetBound("mtn", true)
	m.SetRetryQueue("mtn", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`smpp_pdus_total{bind="mtn",command_id="submit_sm",direction="out"} 1`,
		`smpp_submit_results_total{bind="mtn",result="throttled"} 1`,
		`smpp_bind_up{bind="mtn"} 1`,
		`smpp_retry_queue_length{bind="mtn"} 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %s", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.PDU("b", "enquire_link", "in")
	m.SetThrottled("b", true)
	m.Reconnect("b")
}
