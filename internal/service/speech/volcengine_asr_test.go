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

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
)

func TestVolcFrameCodec(t *testing.T) {
	data, err := encodeVolcFrame(volcAudioFrame([]byte{1, 2, 3, 4}, 7, true))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := decodeVolcFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != volcAudioOnlyRequest || !frame.last() || frame.Sequence != -7 {
		t.Fatalf("unexpected frame header %+v", frame)
	}
	if string(frame.Payload) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("payload not restored: %v", frame.Payload)
	}

	data, _ = encodeVolcFrame(volcFrame{Type: volcErrorMessage, ErrorCode: 45000001, Payload: []byte("bad audio")})
	frame, err = decodeVolcFrame(data)
	if err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if frame.ErrorCode != 45000001 || string(frame.Payload) != "bad audio" {
		t.Fatalf("unexpected error frame %+v", frame)
	}

	if _, err := decodeVolcFrame(data[:6]); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
	bad := append([]byte{0x21}, data[1:]...)
	if _, err := decodeVolcFrame(bad); err == nil {
		t.Fatalf("expected error for unknown protocol version")
	}
}

type fakeVolcengine struct {
	mu      sync.Mutex
	headers http.Header
	request volcRequest
	audio   int
	frames  int
	lastSeq int32
	// failWith makes the server answer the full request with an error frame.
	failWith string
	// script, when set, is the utterance list answered to the n-th audio
	// frame; the last entry is repeated.
	script [][]volcUtterance
}

func serverResponse(t *testing.T, text string, seq int32, last bool) []byte {
	t.Helper()
	return encodeResponse(t, map[string]any{"text": text}, seq, last)
}

func utteranceResponse(t *testing.T, utterances []volcUtterance, seq int32, last bool) []byte {
	t.Helper()
	return encodeResponse(t, map[string]any{"utterances": utterances}, seq, last)
}

func encodeResponse(t *testing.T, result map[string]any, seq int32, last bool) []byte {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"code":   volcengineSuccessCode,
		"result": result,
	})
	flags := volcPositiveSequence
	if last {
		flags = volcNegativeSequence
		seq = -seq
	}
	data, err := encodeVolcFrame(volcFrame{
		Type:          volcFullServerResponse,
		Flags:         flags,
		Serialization: volcSerialJSON,
		Gzip:          true,
		Sequence:      seq,
		Payload:       payload,
	})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	return data
}

func (f *fakeVolcengine) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.headers = r.Header.Clone()
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := decodeVolcFrame(data)
			if err != nil {
				t.Errorf("decode client frame: %v", err)
				return
			}

			switch frame.Type {
			case volcFullClientRequest:
				f.mu.Lock()
				_ = json.Unmarshal(frame.Payload, &f.request)
				f.mu.Unlock()
				if f.failWith != "" {
					errFrame, _ := encodeVolcFrame(volcFrame{Type: volcErrorMessage, ErrorCode: 45000001, Payload: []byte(f.failWith)})
					_ = conn.WriteMessage(websocket.BinaryMessage, errFrame)
				}
			case volcAudioOnlyRequest:
				if f.failWith != "" {
					continue
				}
				f.mu.Lock()
				f.audio += len(frame.Payload)
				f.frames++
				f.lastSeq = frame.Sequence
				n := f.frames
				f.mu.Unlock()

				if len(f.script) > 0 {
					utterances := f.script[min(n, len(f.script))-1]
					seq := frame.Sequence
					if frame.last() {
						seq = -seq
					}
					_ = conn.WriteMessage(websocket.BinaryMessage, utteranceResponse(t, utterances, seq, frame.last()))
					if frame.last() {
						return
					}
					continue
				}
				if frame.last() {
					_ = conn.WriteMessage(websocket.BinaryMessage, serverResponse(t, "hello world", -frame.Sequence, true))
					return
				}
				// the same hypothesis twice is collapsed into one partial
				_ = conn.WriteMessage(websocket.BinaryMessage, serverResponse(t, "hello", frame.Sequence, false))
			}
		}
	}
}

func collectVolc(t *testing.T, v *Volcengine, q *FrameQueue) ([]speechmodel.Result, error) {
	t.Helper()
	stream, err := v.Transcribe(context.Background(), q, speechmodel.DefaultStreamConfig())
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	defer stream.Close()

	var results []speechmodel.Result
	for {
		r, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
}

func TestVolcengineTranscribe(t *testing.T) {
	fake := &fakeVolcengine{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	v := NewVolcengine(VolcengineConfig{
		AppID:       "app",
		AccessToken: "token",
		Endpoint:    wsURL(srv),
		Logger:      zerolog.Nop(),
	})

	q := NewFrameQueue()
	q.Push(make([]byte, 640))
	q.Push(make([]byte, 320))
	q.End()

	results, err := collectVolc(t, v, q)
	if err != nil {
		t.Fatalf("Recv err: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected partial and final, got %+v", results)
	}
	if !results[0].IsPartial || results[0].Text != "hello" {
		t.Fatalf("unexpected partial %+v", results[0])
	}
	if results[1].IsPartial || results[1].Text != "hello world" {
		t.Fatalf("unexpected final %+v", results[1])
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.headers.Get("X-Api-App-Key") != "app" || fake.headers.Get("X-Api-Access-Key") != "token" {
		t.Fatalf("unexpected auth headers %v", fake.headers)
	}
	if fake.headers.Get("X-Api-Resource-Id") != defaultVolcengineResource || fake.headers.Get("X-Api-Connect-Id") == "" {
		t.Fatalf("unexpected resource headers %v", fake.headers)
	}
	if fake.request.Audio.Rate != 16000 || fake.request.Audio.Language != "en-US" || fake.request.Request.ResultType != "full" {
		t.Fatalf("unexpected asr request %+v", fake.request)
	}
	if fake.audio != 960 || fake.frames != 3 || fake.lastSeq != -4 {
		t.Fatalf("unexpected audio stream: bytes=%d frames=%d lastSeq=%d", fake.audio, fake.frames, fake.lastSeq)
	}
}

func TestVolcengineDefiniteUtterancesAreFinal(t *testing.T) {
	fake := &fakeVolcengine{script: [][]volcUtterance{
		{{Text: "how are"}},
		{{Text: "how are you", Definite: true}, {Text: "fine"}},
		{{Text: "how are you", Definite: true}, {Text: "fine thanks", Definite: true}},
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	v := NewVolcengine(VolcengineConfig{
		AppID:       "app",
		AccessToken: "token",
		Endpoint:    wsURL(srv),
		Logger:      zerolog.Nop(),
	})

	q := NewFrameQueue()
	q.Push(make([]byte, 320))
	q.Push(make([]byte, 320))
	q.End()

	results, err := collectVolc(t, v, q)
	if err != nil {
		t.Fatalf("Recv err: %v", err)
	}
	want := []speechmodel.Result{
		{Text: "how are", IsPartial: true},
		{Text: "how are you"},
		{Text: "fine", IsPartial: true},
		{Text: "fine thanks"},
	}
	if len(results) != len(want) {
		t.Fatalf("results = %+v, want %+v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("result %d = %+v, want %+v", i, results[i], want[i])
		}
	}
}

func TestVolcTrackerTail(t *testing.T) {
	var tr volcTracker
	resp := func(utterances ...volcUtterance) volcResponse {
		var r volcResponse
		r.Result.Utterances = utterances
		return r
	}

	if got := tr.observe(resp(volcUtterance{Text: "one", Definite: true}), false); len(got) != 1 || got[0].IsPartial || got[0].Text != "one" {
		t.Fatalf("unexpected results %+v", got)
	}
	// a repeat of the finalized sentence yields nothing new
	if got := tr.observe(resp(volcUtterance{Text: "one", Definite: true}), false); len(got) != 0 {
		t.Fatalf("expected no results, got %+v", got)
	}
	if got := tr.observe(resp(volcUtterance{Text: "one", Definite: true}, volcUtterance{Text: "two"}), false); len(got) != 1 || !got[0].IsPartial || got[0].Text != "two" {
		t.Fatalf("unexpected results %+v", got)
	}
	// the closing frame may carry only the plain transcript; the open tail is final
	var closing volcResponse
	closing.Result.Text = "one two"
	if got := tr.observe(closing, true); len(got) != 1 || got[0].IsPartial || got[0].Text != "two" {
		t.Fatalf("unexpected results %+v", got)
	}
}

func TestVolcengineServerError(t *testing.T) {
	fake := &fakeVolcengine{failWith: "invalid audio format"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	v := NewVolcengine(VolcengineConfig{AppID: "app", AccessToken: "token", Endpoint: wsURL(srv), Logger: zerolog.Nop()})

	q := NewFrameQueue()
	q.End()

	_, err := collectVolc(t, v, q)
	if err == nil || !strings.Contains(err.Error(), "45000001") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestVolcengineRequiresCredentials(t *testing.T) {
	v := NewVolcengine(VolcengineConfig{Logger: zerolog.Nop()})
	if _, err := v.Transcribe(context.Background(), NewFrameQueue(), speechmodel.DefaultStreamConfig()); err == nil {
		t.Fatalf("expected credential error")
	}
}

func TestVolcLanguage(t *testing.T) {
	cases := map[string]string{"en": "en-US", "zh": "zh-CN", "ja-JP": "ja-JP", "": ""}
	for in, want := range cases {
		if got := volcLanguage(in); got != want {
			t.Fatalf("volcLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
