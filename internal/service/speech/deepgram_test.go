package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
)

type fakeDeepgram struct {
	mu       sync.Mutex
	query    map[string]string
	auth     string
	received int
	closeMsg string
}

func (f *fakeDeepgram) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.query = map[string]string{}
		for k := range r.URL.Query() {
			f.query[k] = r.URL.Query().Get(k)
		}
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				f.mu.Lock()
				f.received += len(data)
				f.mu.Unlock()
				_ = conn.WriteJSON(resultMessage("hel", false))
				continue
			}

			f.mu.Lock()
			f.closeMsg = string(data)
			f.mu.Unlock()
			_ = conn.WriteJSON(map[string]any{"type": "Metadata"})
			_ = conn.WriteJSON(resultMessage("hello world", true))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func resultMessage(text string, final bool) map[string]any {
	return map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.9}},
		},
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramTranscribe(t *testing.T) {
	fake := &fakeDeepgram{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	dg := NewDeepgram(DeepgramConfig{
		APIKey:   "secret",
		Endpoint: wsURL(srv),
		Logger:   zerolog.Nop(),
	})

	q := NewFrameQueue()
	q.Push(make([]byte, 640))
	q.End()

	stream, err := dg.Transcribe(context.Background(), q, speechmodel.DefaultStreamConfig())
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	defer stream.Close()

	var results []speechmodel.Result
	for {
		r, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		results = append(results, r)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if !results[0].IsPartial || results[0].Text != "hel" {
		t.Fatalf("unexpected partial %+v", results[0])
	}
	if results[1].IsPartial || results[1].Text != "hello world" {
		t.Fatalf("unexpected final %+v", results[1])
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.auth != "Token secret" {
		t.Fatalf("unexpected auth header %q", fake.auth)
	}
	if fake.received != 640 {
		t.Fatalf("expected 640 audio bytes, got %d", fake.received)
	}
	var closeMsg map[string]string
	if err := json.Unmarshal([]byte(fake.closeMsg), &closeMsg); err != nil || closeMsg["type"] != "CloseStream" {
		t.Fatalf("unexpected close message %q", fake.closeMsg)
	}
	wantQuery := map[string]string{
		"model":           "nova-3",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"language":        "en",
		"interim_results": "true",
		"punctuate":       "true",
	}
	for k, v := range wantQuery {
		if fake.query[k] != v {
			t.Fatalf("query %s = %q, want %q", k, fake.query[k], v)
		}
	}
}

func TestDeepgramDrainTimeoutEndsStream(t *testing.T) {
	// The server swallows everything and never answers.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dg := NewDeepgram(DeepgramConfig{
		APIKey:       "secret",
		Endpoint:     wsURL(srv),
		DrainTimeout: 50 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})

	q := NewFrameQueue()
	q.Push([]byte{0, 0})
	q.End()

	stream, err := dg.Transcribe(context.Background(), q, speechmodel.DefaultStreamConfig())
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after drain timeout, got %v", err)
	}
}

func TestDeepgramDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	dg := NewDeepgram(DeepgramConfig{APIKey: "bad", Endpoint: wsURL(srv), Logger: zerolog.Nop()})
	if _, err := dg.Transcribe(context.Background(), NewFrameQueue(), speechmodel.DefaultStreamConfig()); err == nil {
		t.Fatalf("expected dial error")
	}
}
