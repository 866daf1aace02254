package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type sample struct {
	Username string `json:"username" validate:"required,min=2"`
}

func TestDecodeJSONValidates(t *testing.T) {
	var got sample
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"x"}`))
	err := DecodeJSON(req, &got)

	var vErr *ValidationError
	if !errors.As(err, &vErr) || !vErr.Failed("Username") {
		t.Fatalf("expected Username validation failure, got %v", err)
	}
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	var got sample
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":`))
	if err := DecodeJSON(req, &got); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected ErrInvalidBody, got %v", err)
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusBadRequest, "Message is required")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %s", rec.Header().Get("Content-Type"))
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"error":"Message is required"}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	if err := SendSSEEvent(rec, rec, "message", map[string]string{"id": "m1"}); err != nil {
		t.Fatalf("SendSSEEvent err: %v", err)
	}
	if got := rec.Body.String(); got != "event: message\ndata: {\"id\":\"m1\"}\n\n" {
		t.Fatalf("unexpected frame %q", got)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatal("missing event-stream content type")
	}
}
