package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestContextHandlerAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug")

	ctx := ContextWithBind(context.Background(), "mtn")
	ctx = ContextWithMessageID(ctx, "m-1")
	ctx = ContextWithPDUInfo(ctx, "submit_sm", 42)
	logger.With(slog.String("component", "test")).InfoContext(ctx, "sent")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	want := map[string]any{
		"msg":        "sent",
		"bind":       "mtn",
		"message_id": "m-1",
		"cmd_id":     "submit_sm",
		"seq_num":    float64(42),
		"component":  "test",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %v", k, rec[k], v)
		}
	}
	if _, ok := rec["system_id"]; ok {
		t.Error("system_id logged without being set")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
