package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestRespondErrorCarriesRequestID(t *testing.T) {
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, http.StatusNotFound, "chat not found")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "chat not found" || body.RequestID != "req-42" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestRespondErrorWithoutRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	RespondError(resp, req, http.StatusBadRequest, "bad")

	if strings.Contains(resp.Body.String(), "requestId") {
		t.Fatalf("unexpected request id in %s", resp.Body.String())
	}
}

func TestRespondJSONNilPayloadWritesNoBody(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondJSON(resp, http.StatusAccepted, nil)
	if resp.Code != http.StatusAccepted || resp.Body.Len() != 0 {
		t.Fatalf("unexpected response %d %q", resp.Code, resp.Body.String())
	}
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	big := `{"name":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	resp := httptest.NewRecorder()

	var payload struct {
		Name string `json:"name"`
	}
	if err := DecodeJSON(resp, req, &payload); err == nil {
		t.Fatalf("expected error for oversized body")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
	if err := DecodeJSON(resp, req, &payload); err != nil || payload.Name != "ok" {
		t.Fatalf("DecodeJSON = %v, payload %+v", err, payload)
	}
}
