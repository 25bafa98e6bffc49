package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/esmelink/internal/esme"
	"github.com/thrillee/esmelink/internal/metrics"
	"github.com/thrillee/esmelink/pkg/codes"
)

type fakeBind struct {
	status  esme.Status
	queried []string
	err     error
}

func (f *fakeBind) Name() string { return f.status.Name }

func (f *fakeBind) Status() esme.Status { return f.status }

func (f *fakeBind) QueryMessage(_ context.Context, id, _ string) (uint32, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.queried = append(f.queried, id)
	return 42, nil
}

func newTestRouter(binds ...*fakeBind) *gin.Engine {
	gin.SetMode(gin.TestMode)
	list := make([]Bind, 0, len(binds))
	for _, b := range binds {
		list = append(list, b)
	}
	m := metrics.New()
	m.SetBound("mtn", true)
	return NewRouter(NewHandler(list, m.Handler()))
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	mtn := &fakeBind{status: esme.Status{Name: "mtn", Status: codes.StatusConnecting}}
	r := newTestRouter(mtn)

	if w := do(r, http.MethodGet, "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health with nothing bound = %d, want 503", w.Code)
	}
	mtn.status.Status = codes.StatusBound
	if w := do(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", w.Code)
	}
}

func TestListBinds(t *testing.T) {
	r := newTestRouter(
		&fakeBind{status: esme.Status{Name: "mtn", Status: codes.StatusBound, State: esme.StateBoundTRX}},
		&fakeBind{status: esme.Status{Name: "glo", Status: codes.StatusStopped, State: esme.StateClosed}},
	)
	w := do(r, http.MethodGet, "/binds", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /binds = %d", w.Code)
	}
	var got []esme.Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "glo" || got[1].Name != "mtn" || got[1].State != esme.StateBoundTRX {
		t.Errorf("binds = %+v", got)
	}

	if w := do(r, http.MethodGet, "/binds/airtel", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /binds/airtel = %d, want 404", w.Code)
	}
}

func TestQueryMessage(t *testing.T) {
	mtn := &fakeBind{status: esme.Status{Name: "mtn"}}
	r := newTestRouter(mtn)

	w := do(r, http.MethodPost, "/binds/mtn/query_sm", `{"smsc_message_id":"abc123","source_addr":"1234"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST query_sm = %d: %s", w.Code, w.Body.String())
	}
	if len(mtn.queried) != 1 || mtn.queried[0] != "abc123" {
		t.Errorf("queried = %v", mtn.queried)
	}

	if w := do(r, http.MethodPost, "/binds/mtn/query_sm", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing id = %d, want 400", w.Code)
	}

	mtn.err = esme.ErrNotBound
	if w := do(r, http.MethodPost, "/binds/mtn/query_sm", `{"smsc_message_id":"x"}`); w.Code != http.StatusConflict {
		t.Errorf("unbound = %d, want 409", w.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	r := newTestRouter(&fakeBind{status: esme.Status{Name: "mtn"}})
	w := do(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `smpp_bind_up{bind="mtn"} 1`) {
		t.Errorf("metrics output missing smpp_bind_up:\n%s", w.Body.String())
	}
}
